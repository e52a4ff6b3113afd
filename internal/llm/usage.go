package llm

import (
	"embed"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const modelRatesEnv = "MODEL_RATES_PATH"

//go:embed rates.yaml
var ratesFS embed.FS

type ModelRate struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

type rateTable struct {
	Default ModelRate            `yaml:"default"`
	Models  map[string]ModelRate `yaml:"models"`
}

var (
	ratesOnce  sync.Once
	ratesCache rateTable
)

func loadRateTable(log *logger.Logger) rateTable {
	ratesOnce.Do(func() {
		ratesCache = rateTable{
			Default: ModelRate{InputPerMTok: 1.0, OutputPerMTok: 3.0},
		}

		data, err := readRatesYAML()
		if err != nil {
			if log != nil {
				log.Warn("model rate table load failed; using defaults", "error", err)
			}
			return
		}

		var parsed rateTable
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			if log != nil {
				log.Warn("model rate table parse failed; using defaults", "error", err)
			}
			return
		}
		if parsed.Default.InputPerMTok > 0 || parsed.Default.OutputPerMTok > 0 {
			ratesCache.Default = parsed.Default
		}
		ratesCache.Models = parsed.Models
	})
	return ratesCache
}

func readRatesYAML() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(modelRatesEnv)); path != "" {
		return os.ReadFile(path)
	}
	return ratesFS.ReadFile("rates.yaml")
}

// RateFor resolves a model's rate: exact key, else the longest table key
// that prefixes the model name, else the default.
func (t rateTable) RateFor(model string) ModelRate {
	model = strings.ToLower(strings.TrimSpace(model))
	if r, ok := t.Models[model]; ok {
		return r
	}
	bestLen := 0
	best := t.Default
	for key, r := range t.Models {
		if strings.HasPrefix(model, strings.ToLower(key)) && len(key) > bestLen {
			bestLen = len(key)
			best = r
		}
	}
	return best
}

// UsageLogger persists billed token counts with an estimated USD cost.
// Local-provider calls exercise the owner's own hardware and are skipped.
// Logging is best-effort: a failed insert is warned about, never
// propagated into the generation path.
type UsageLogger struct {
	usage repos.UsageLogRepo
	log   *logger.Logger
}

func NewUsageLogger(usage repos.UsageLogRepo, baseLog *logger.Logger) *UsageLogger {
	return &UsageLogger{
		usage: usage,
		log:   baseLog.With("service", "UsageLogger"),
	}
}

func (u *UsageLogger) Log(dbc dbctx.Context, ownerID uuid.UUID, res *GenerateResult, useCase string, conversationID *uuid.UUID) {
	if res == nil || ownerID == uuid.Nil {
		return
	}
	if res.Provider == ProviderLocal || res.Provider == "" {
		return
	}
	if res.InputTokens == 0 && res.OutputTokens == 0 {
		return
	}

	rate := loadRateTable(u.log).RateFor(res.Model)
	cost := float64(res.InputTokens)/1e6*rate.InputPerMTok +
		float64(res.OutputTokens)/1e6*rate.OutputPerMTok

	row := &types.AIUsageLog{
		OwnerID:        ownerID,
		Provider:       res.Provider,
		Model:          res.Model,
		UseCase:        useCase,
		InputTokens:    res.InputTokens,
		OutputTokens:   res.OutputTokens,
		EstimatedCost:  cost,
		ConversationID: conversationID,
	}
	if err := u.usage.Create(dbc, row); err != nil {
		u.log.Warn("usage log insert failed",
			"owner_id", ownerID,
			"provider", res.Provider,
			"model", res.Model,
			"error", err,
		)
	}
}
