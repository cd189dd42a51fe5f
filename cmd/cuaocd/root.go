package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wadang/cua/internal/cuaerr"
)

// Exit codes (spec.md §6).
const (
	exitSuccess     = 0
	exitUsage       = 2
	exitConfig      = 3
	exitRuntime     = 4
	exitInterrupted = 130
)

var (
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var rootCmd = &cobra.Command{
	Use:           "cuaocd",
	Short:         "Computer-Use Agent Orchestration Core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command and maps any returned error onto
// spec.md §6's exit-code contract.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, dimStyle.Render("interrupted"))
			return exitInterrupted
		}
		fmt.Fprintln(os.Stderr, errStyle.Render("error: "+err.Error()))
		return exitCodeFor(err)
	}
	return exitSuccess
}

func exitCodeFor(err error) int {
	var cfgErr *cuaerr.ConfigurationError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	var usageErr usageError
	if errors.As(err, &usageErr) {
		return exitUsage
	}
	return exitRuntime
}

// usageError marks a CLI argument-validation failure distinct from a
// runtime configuration error (spec.md §6 exit code 2 vs 3).
type usageError struct{ reason string }

func (e usageError) Error() string { return e.reason }
