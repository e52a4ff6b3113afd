package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/db"
	internalhttp "github.com/Simmak7/project-Mnemosyne-sub001/internal/http"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Analyses stuck in processing longer than this are re-queued so a worker
// crash mid-analysis does not leave uploads spinning forever.
const (
	stuckAnalysisThreshold = 10 * time.Minute
	stuckSweepInterval     = 15 * time.Minute
	summarySweepInterval   = 10 * time.Minute

	shutdownTimeout = 15 * time.Second
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Clients  Clients
	SSEHub   *sse.SSEHub
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if err := cfg.Validate(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	ssehub := sse.NewSSEHub(log)

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, ssehub, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, ssehub)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		Clients:  clients,
		SSEHub:   ssehub,
	}, nil
}

// Start launches the background machinery: the task worker under RUN_WORKER,
// the Redis-to-hub event forwarder under RUN_SERVER, and the maintenance
// sweeps. It does not block; Run serves HTTP.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.RunServer && a.Clients.SSEBus != nil {
		err := a.Clients.SSEBus.StartForwarder(ctx, func(m sse.SSEMessage) {
			a.SSEHub.Broadcast(m)
		})
		if err != nil {
			return fmt.Errorf("start sse forwarder: %w", err)
		}
	}

	if a.Cfg.RunWorker {
		if a.Services.TaskWorker != nil {
			a.Services.TaskWorker.Start(ctx)
		}
		go a.stuckAnalysisSweep(ctx)
		go a.summaryDueSweep(ctx)
	}

	return nil
}

func (a *App) stuckAnalysisSweep(ctx context.Context) {
	ticker := time.NewTicker(stuckSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbc := dbctx.New(ctx)
			if n, err := a.Repos.Document.ResetStuckAnalyses(dbc, stuckAnalysisThreshold); err != nil {
				a.Log.Warn("Stuck document analysis sweep failed", "error", err)
			} else if n > 0 {
				a.Log.Info("Re-queued stuck document analyses", "count", n)
			}
			if n, err := a.Repos.Image.ResetStuckAnalyses(dbc, stuckAnalysisThreshold); err != nil {
				a.Log.Warn("Stuck image analysis sweep failed", "error", err)
			} else if n > 0 {
				a.Log.Info("Re-queued stuck image analyses", "count", n)
			}
		}
	}
}

// summaryDueSweep queues the rolling-summary task for conversations whose
// unsummarized turn count crossed the threshold. The chat path enqueues the
// same task inline on a best-effort basis; the sweep picks up whatever that
// missed. Enqueue dedupes, so overlap with the inline path is harmless.
func (a *App) summaryDueSweep(ctx context.Context) {
	ticker := time.NewTicker(summarySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbc := dbctx.New(ctx)
			due, err := a.Repos.BrainConversation.ListDueForSummary(dbc, brain.SummaryDueThreshold)
			if err != nil {
				a.Log.Warn("Summary-due sweep failed", "error", err)
				continue
			}
			for _, conv := range due {
				id := conv.ID
				_, err := a.Services.Task.Enqueue(ctx, conv.OwnerID, types.TaskConversationSummary,
					"brain_conversation", &id, map[string]any{"conversation_id": id})
				if err != nil {
					a.Log.Warn("Queueing due summary failed", "conversation_id", id, "error", err)
				}
			}
		}
	}
}

// Run serves HTTP until ctx is canceled or the listener fails. Cancellation
// drains in-flight requests within shutdownTimeout before returning.
func (a *App) Run(ctx context.Context, addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	srv := internalhttp.NewServer(a.Router, addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.Log.Info("Server listening", "addr", addr)

	select {
	case <-ctx.Done():
		a.Log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
