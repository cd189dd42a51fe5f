package agentbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/config"
	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/llm"
)

func TestBuildSingleKnownProviders(t *testing.T) {
	cfg := &config.Config{ProviderKeys: map[string]string{}}
	computer := computerport.NewFake().WithHandle("linux", "fake", "box-1", 1024, 768)

	for _, raw := range []string{
		"openai/computer-use-preview",
		"anthropic/claude-3-5-sonnet-20241022",
		"huggingface-local/some-vlm",
		"ollama_chat/some-vlm",
		"mlx/some-vlm",
		"ollama_chat/ui-tars-7b",
		"omniparser/v2",
		"human/operator",
	} {
		model, err := llm.ParseModelString(raw)
		require.NoError(t, err)

		a, err := Build(cfg, model, computer, config.NewEnvSnapshot(cfg, nil))
		require.NoError(t, err, raw)
		assert.NotNil(t, a, raw)
	}
}

func TestBuildRoutesBoxTokenNamesToUITARS(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("ollama_chat/ui-tars-7b")
	require.NoError(t, err)

	a, err := Build(cfg, model, computerport.NewFake(), config.NewEnvSnapshot(cfg, nil))
	require.NoError(t, err)
	_, ok := a.(*adapter.UITARS)
	assert.True(t, ok, "expected *adapter.UITARS, got %T", a)
}

func TestBuildRoutesOtherNamesToVLM(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("huggingface-local/some-vlm")
	require.NoError(t, err)

	a, err := Build(cfg, model, computerport.NewFake(), config.NewEnvSnapshot(cfg, nil))
	require.NoError(t, err)
	_, ok := a.(*adapter.VLM)
	assert.True(t, ok, "expected *adapter.VLM, got %T", a)
}

func TestBuildDerivesOpenAIEnvironmentFromOSType(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("openai/computer-use-preview")
	require.NoError(t, err)

	a, err := Build(cfg, model, computerport.NewFake().WithHandle("windows", "cloud", "box-1", 1920, 1080), config.NewEnvSnapshot(cfg, nil))
	require.NoError(t, err)
	openai, ok := a.(*adapter.OpenAIComputerUse)
	require.True(t, ok)
	assert.Equal(t, "windows", openai.Environment)
	assert.Equal(t, 1920, openai.DisplayWidth)
	assert.Equal(t, 1080, openai.DisplayHeight)
}

func TestBuildUnknownProviderSurfacesUnknownModel(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("mystery/foo")
	require.NoError(t, err)

	_, err = Build(cfg, model, computerport.NewFake(), config.NewEnvSnapshot(cfg, nil))
	var unknown *cuaerr.UnknownModel
	require.ErrorAs(t, err, &unknown)
}

func TestBuildCompositeRequiresGroundingGrounder(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("openai/computer-use-preview+omniparser/v2")
	require.NoError(t, err)

	a, err := Build(cfg, model, computerport.NewFake(), config.NewEnvSnapshot(cfg, nil))
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestBuildCompositeRejectsNonGroundingGrounderHalf(t *testing.T) {
	cfg := &config.Config{}
	model, err := llm.ParseModelString("openai/computer-use-preview+anthropic/claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	_, err = Build(cfg, model, computerport.NewFake(), config.NewEnvSnapshot(cfg, nil))
	var cfgErr *cuaerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

// A per-request env override (spec.md §4.9/§6 agent_kwargs.env) takes
// priority over the process-wide provider key for that one call.
func TestBuildPrefersEnvOverrideOverConfiguredAPIKey(t *testing.T) {
	cfg := &config.Config{ProviderKeys: map[string]string{"anthropic": "process-wide-key"}}
	model, err := llm.ParseModelString("anthropic/claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	env := config.NewEnvSnapshot(cfg, map[string]string{"ANTHROPIC_API_KEY": "per-request-key"})
	a, err := Build(cfg, model, computerport.NewFake(), env)
	require.NoError(t, err)
	anthropic, ok := a.(*adapter.AnthropicComputerUse)
	require.True(t, ok)
	assert.Equal(t, "per-request-key", anthropic.APIKey)
}
