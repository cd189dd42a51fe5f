// Package agentbuild resolves a parsed model string into the concrete
// Agent Loop Adapter that will drive a run — the INIT-phase "resolve
// model → adapter" step (spec.md §4.7) — shared by the serve and run
// CLI subcommands so neither hardwires the provider → constructor
// mapping on its own.
package agentbuild

import (
	"strings"
	"time"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/composite"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/config"
	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/llm"
)

const defaultLLMTimeout = 120 * time.Second

// Build resolves model into an adapter.Adapter, composing a planner and
// grounder via internal/composite when model is a "+" pair (spec.md
// §4.5). Display dimensions and environment are read off computer
// itself (spec.md §4.4: "display_width/height matching the bound
// computer", "environment derived from os_type") rather than threaded
// in separately, so an adapter can never drift from the handle it will
// actually run actions against. env layers a request's agent_kwargs.env
// overrides (spec.md §4.9/§6) over cfg for the lifetime of this one
// call — pass config.NewEnvSnapshot(cfg, nil) when there are none.
func Build(cfg *config.Config, model llm.ModelString, computer computerport.Computer, env config.EnvSnapshot) (adapter.Adapter, error) {
	if !model.Composite {
		return buildSingle(cfg, model.Planner, computer, env)
	}

	planner, err := buildSingle(cfg, model.Planner, computer, env)
	if err != nil {
		return nil, err
	}
	grounderAdapter, err := buildSingle(cfg, model.Grounder, computer, env)
	if err != nil {
		return nil, err
	}
	grounder, ok := grounderAdapter.(adapter.Grounder)
	if !ok {
		return nil, &cuaerr.ConfigurationError{Reason: "grounder half of composite model does not implement Ground: " + model.Grounder.String()}
	}
	return composite.New(planner, grounder), nil
}

func buildSingle(cfg *config.Config, ref llm.ModelRef, computer computerport.Computer, env config.EnvSnapshot) (adapter.Adapter, error) {
	key := apiKeyFor(env, cfg, ref.Provider)
	width, height := dimensionsOf(computer)

	switch ref.Provider {
	case "openai":
		return adapter.NewOpenAIComputerUse("https://api.openai.com/v1", key, ref.Name, width, height, environmentOf(computer)), nil
	case "anthropic":
		return adapter.NewAnthropicComputerUse("https://api.anthropic.com", key, ref.Name, width, height), nil
	case "huggingface-local", "ollama_chat", "mlx":
		// All three resolve to the same chat-completions-shaped
		// transport (spec.md §4.3); the model name picks which decoder
		// reads the response — box-token (UI-TARS-family) names parse
		// through the UI-TARS adapter, everything else through the
		// generic VLM adapter.
		client := llm.NewHTTPClient(baseURLFor(cfg, ref.Provider), key, ref.Name, defaultLLMTimeout)
		if isBoxTokenModel(ref.Name) {
			return adapter.NewUITARS(client, ref.Name, width, height), nil
		}
		return adapter.NewVLM(client, ref.Name, ""), nil
	case "omniparser":
		client := llm.NewHTTPClient(baseURLFor(cfg, ref.Provider), key, ref.Name, defaultLLMTimeout)
		return adapter.NewOmniparser(client, ref.Name), nil
	case "human":
		decisions := make(chan adapter.HumanDecision)
		return adapter.NewHuman(decisions), nil
	default:
		return nil, &cuaerr.UnknownModel{Model: ref.String()}
	}
}

// isBoxTokenModel reports whether name identifies a UI-TARS-family
// model, which emits `<|loc{x}|>`-style box tokens instead of prose JSON
// (spec.md §4.4 UI-TARS / box-token adapter).
func isBoxTokenModel(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "tars") || strings.Contains(lower, "box-token")
}

// dimensionsOf reads the bound computer's display size, falling back to
// a sane default when computer is nil (e.g. building an adapter ahead of
// having acquired one, in tests).
func dimensionsOf(computer computerport.Computer) (int, int) {
	if computer == nil {
		return 1280, 720
	}
	return computer.Dimensions()
}

// environmentOf maps the bound computer's os_type onto the OpenAI
// computer-use adapter's environment vocabulary ("browser", "mac",
// "windows", "ubuntu").
func environmentOf(computer computerport.Computer) string {
	if computer == nil {
		return "ubuntu"
	}
	switch computer.OSType() {
	case "macos":
		return "mac"
	case "windows":
		return "windows"
	default:
		return "ubuntu"
	}
}

// apiKeyFor consults env first, so agent_kwargs.env can scope a
// different key to this one adapter call (spec.md §6), then falls back
// to the process-wide per-provider keys and finally the single
// catch-all api_key.
func apiKeyFor(env config.EnvSnapshot, cfg *config.Config, provider string) string {
	if key, ok := env.Lookup(strings.ToUpper(provider) + "_API_KEY"); ok && key != "" {
		return key
	}
	if cfg == nil {
		return ""
	}
	if key, ok := cfg.ProviderKeys[provider]; ok {
		return key
	}
	return cfg.APIKey
}

// baseURLFor returns the base URL for the vision/grounding backends
// (uitars, omniparser, generic vlm) that route through the
// chat-completions-shaped internal/llm.HTTPClient. It always returns
// http://localhost:8000/v1; neither cfg nor provider is consulted.
// openai/anthropic hardcode their own official endpoints in their
// hand-rolled clients (see DESIGN.md C4).
func baseURLFor(cfg *config.Config, provider string) string {
	return "http://localhost:8000/v1"
}
