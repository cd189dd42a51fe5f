package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wadang/cua/internal/agentbuild"
	"github.com/wadang/cua/internal/callback"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/config"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/orchestrator"
	"github.com/wadang/cua/internal/schema"
	"github.com/wadang/cua/internal/session"
	"github.com/wadang/cua/internal/transport"
)

var runFlags struct {
	model          string
	task           string
	sessionID      string
	saveTrajectory string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one run against a freshly provisioned computer",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.model, "model", "", "model string, e.g. anthropic/claude-3-5-sonnet-20241022")
	runCmd.Flags().StringVar(&runFlags.task, "task", "", "natural-language task description")
	runCmd.Flags().StringVar(&runFlags.sessionID, "session-id", "", "session id to tag this run with (informational in single-run mode)")
	runCmd.Flags().StringVar(&runFlags.saveTrajectory, "save-trajectory", "", "directory to write the run's trajectory JSONL to")
	_ = runCmd.MarkFlagRequired("model")
	_ = runCmd.MarkFlagRequired("task")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFlags.model == "" || runFlags.task == "" {
		return usageError{reason: "run: --model and --task are required"}
	}

	model, err := llm.ParseModelString(runFlags.model)
	if err != nil {
		return usageError{reason: "run: " + err.Error()}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	provisioner := session.DefaultProvisioner{Mode: computerport.ModeFromEnv()}
	computer, err := provisioner.Open(cmd.Context(), cfg.ContainerName)
	if err != nil {
		return fmt.Errorf("run: provision computer: %w", err)
	}
	defer provisioner.Close(context.Background(), computer)

	agent, err := agentbuild.Build(cfg, model, computer, config.NewEnvSnapshot(cfg, nil))
	if err != nil {
		return err
	}

	sessionID := runFlags.sessionID
	if sessionID == "" {
		sessionID = "adhoc"
	}

	var hooks []any
	if runFlags.saveTrajectory != "" {
		tw, err := callback.NewTrajectoryWriter(transport.RunTrajectoryDir(runFlags.saveTrajectory, sessionID))
		if err != nil {
			return fmt.Errorf("run: trajectory writer: %w", err)
		}
		hooks = append(hooks, tw)
	}
	hooks = append(hooks, callback.NewPIIScrubber())
	hooks = append(hooks, callback.NewPromptCacheHinter(4))
	gate, err := callback.NewPolicyGate(cmd.Context(), callback.DefaultToolPolicy)
	if err != nil {
		return err
	}
	hooks = append(hooks, gate)
	pipeline := callback.New(hooks...)

	run := orchestrator.NewRun(agent, computer, pipeline)
	result := run.Execute(cmd.Context(), []schema.Message{schema.NewUserText(runFlags.task)})

	printResult(result, run.Budget.Spent())

	if result.Cancelled {
		return errInterrupted
	}
	if !result.Completed {
		return fmt.Errorf("run: %v", result.Err)
	}
	return nil
}

func printResult(result orchestrator.Result, usage schema.Usage) {
	for _, msg := range result.Transcript {
		line, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}
	status := "completed"
	style := okStyle
	switch {
	case result.Cancelled:
		status = "cancelled"
		style = dimStyle
	case !result.Completed:
		status = "failed"
		style = errStyle
	}
	fmt.Fprintf(os.Stderr, "%s (steps=%d prompt_tokens=%d completion_tokens=%d cost=%.4f)\n",
		style.Render(status), result.Steps, usage.PromptTokens, usage.CompletionTokens, usage.ResponseCost)
}
