// Package nexus implements the adaptive retrieval-and-generation engine:
// query routing, multi-strategy candidate generation, intent-weighted
// fusion, rich-citation context assembly, and the streaming answer
// pipeline.
package nexus

import "strings"

// Retrieval depth. FAST runs hybrid search only, STANDARD adds the graph
// navigator, DEEP adds diffusion ranking. AUTO lets the router infer.
const (
	ModeFast     = "FAST"
	ModeStandard = "STANDARD"
	ModeDeep     = "DEEP"
	ModeAuto     = "AUTO"
)

// Query intent drives the fusion weight matrix.
const (
	IntentFactual     = "factual"
	IntentSynthesis   = "synthesis"
	IntentExploration = "exploration"
	IntentTemporal    = "temporal"
	IntentCreative    = "creative"
)

// Strategy identifiers recorded in stream metadata.
const (
	StrategyVector    = "vector_search"
	StrategyGraph     = "graph_navigator"
	StrategyDiffusion = "diffusion_ranking"
)

// Route is the classification of one query.
type Route struct {
	Mode         string `json:"mode"`
	Intent       string `json:"intent"`
	AutoDetected bool   `json:"auto_detected"`
}

// classifyRoute honors a forced mode and otherwise infers one from the
// query shape and whether the navigation cache can support the navigator.
func classifyRoute(query, requestedMode string, navCacheReady bool) Route {
	intent := classifyIntent(query)

	switch strings.ToUpper(strings.TrimSpace(requestedMode)) {
	case ModeFast:
		return Route{Mode: ModeFast, Intent: intent}
	case ModeStandard:
		return Route{Mode: ModeStandard, Intent: intent}
	case ModeDeep:
		return Route{Mode: ModeDeep, Intent: intent}
	}

	return Route{
		Mode:         inferMode(query, navCacheReady),
		Intent:       intent,
		AutoDetected: true,
	}
}

// deepMarkers are aggregative or synthesis cues that warrant the full
// strategy set regardless of query length.
var deepMarkers = []string{
	"summarize", "summary", "overview", "synthesize", "synthesis",
	"compare", "contrast", "relate", "relationship", "relationships",
	"connection", "connections", "connect", "theme", "themes",
	"across", "everything", "all my", "big picture",
}

func inferMode(query string, navCacheReady bool) string {
	lower := strings.ToLower(query)
	if containsAny(lower, deepMarkers) {
		return ModeDeep
	}
	// Longer questions carry enough context for map-level navigation,
	// which is only worth running when the cache exists.
	if len(strings.Fields(query)) >= 8 && navCacheReady {
		return ModeStandard
	}
	return ModeFast
}

var (
	temporalMarkers = []string{
		"yesterday", "today", "last week", "last month", "this week",
		"this month", "this year", "recent", "recently", "latest",
		"when did", "days ago", "weeks ago", "months ago",
	}
	creativeMarkers = []string{
		"brainstorm", "imagine", "draft", "compose", "write a", "write me",
		"come up with", "idea for", "ideas for", "what if",
	}
	synthesisMarkers = []string{
		"summarize", "summary", "overview", "synthesize", "synthesis",
		"combine", "compare", "contrast", "themes", "across", "big picture",
	}
	explorationMarkers = []string{
		"related", "relate", "connection", "connections", "connected",
		"similar", "explore", "discover", "link between", "links between",
	}
)

// classifyIntent is a lexical cue classifier; precedence is temporal,
// creative, synthesis, exploration, and factual as the default.
func classifyIntent(query string) string {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, temporalMarkers):
		return IntentTemporal
	case containsAny(lower, creativeMarkers):
		return IntentCreative
	case containsAny(lower, synthesisMarkers):
		return IntentSynthesis
	case containsAny(lower, explorationMarkers):
		return IntentExploration
	}
	return IntentFactual
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
