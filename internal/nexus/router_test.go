package nexus

import "testing"

func TestClassifyRouteForcedMode(t *testing.T) {
	cases := []struct {
		requested string
		want      string
	}{
		{"FAST", ModeFast},
		{"fast", ModeFast},
		{"Standard", ModeStandard},
		{"DEEP", ModeDeep},
		{" deep ", ModeDeep},
	}
	for _, tc := range cases {
		r := classifyRoute("what is the capital of France", tc.requested, false)
		if r.Mode != tc.want {
			t.Errorf("requested %q: mode = %q, want %q", tc.requested, r.Mode, tc.want)
		}
		if r.AutoDetected {
			t.Errorf("requested %q: forced modes must not be auto-detected", tc.requested)
		}
	}
}

func TestClassifyRouteAuto(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		cache    bool
		wantMode string
	}{
		{"short simple query", "docker networking", true, ModeFast},
		{"aggregative marker forces deep", "give me an overview of my research", false, ModeDeep},
		{"connections marker forces deep", "connections between rust and go", true, ModeDeep},
		{"long query with cache", "how do I configure the reverse proxy for the staging cluster", true, ModeStandard},
		{"long query without cache stays fast", "how do I configure the reverse proxy for the staging cluster", false, ModeFast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := classifyRoute(tc.query, "", tc.cache)
			if r.Mode != tc.wantMode {
				t.Fatalf("mode = %q, want %q", r.Mode, tc.wantMode)
			}
			if !r.AutoDetected {
				t.Fatal("expected auto_detected=true")
			}
		})
	}

	// AUTO spelled out behaves like empty.
	r := classifyRoute("docker networking", "AUTO", true)
	if r.Mode != ModeFast || !r.AutoDetected {
		t.Fatalf("AUTO: got mode=%q auto=%v", r.Mode, r.AutoDetected)
	}
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"what did I write about kubernetes", IntentFactual},
		{"what did I work on last week", IntentTemporal},
		{"recent notes on the incident", IntentTemporal},
		{"brainstorm ideas for the launch post", IntentCreative},
		{"summarize my reading on distributed systems", IntentSynthesis},
		{"compare postgres and sqlite notes", IntentSynthesis},
		{"what is related to my gardening notes", IntentExploration},
		{"explore the links between music and math", IntentExploration},
		// Temporal cues outrank synthesis cues.
		{"summarize what I wrote yesterday", IntentTemporal},
		{"", IntentFactual},
	}
	for _, tc := range cases {
		if got := classifyIntent(tc.query); got != tc.want {
			t.Errorf("classifyIntent(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestStrategyGraphWireID(t *testing.T) {
	if StrategyGraph != "graph_navigator" {
		t.Fatalf("StrategyGraph = %q, want %q", StrategyGraph, "graph_navigator")
	}
}
