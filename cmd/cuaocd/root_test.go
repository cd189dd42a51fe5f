package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wadang/cua/internal/cuaerr"
)

func TestExitCodeForConfigurationErrorIsExitConfig(t *testing.T) {
	err := &cuaerr.ConfigurationError{Reason: "missing api key"}
	assert.Equal(t, exitConfig, exitCodeFor(err))
}

func TestExitCodeForUsageErrorIsExitUsage(t *testing.T) {
	err := usageError{reason: "bad flag"}
	assert.Equal(t, exitUsage, exitCodeFor(err))
}

func TestExitCodeForOtherErrorIsExitRuntime(t *testing.T) {
	err := assert.AnError
	assert.Equal(t, exitRuntime, exitCodeFor(err))
}

func TestServeRejectsUnknownMode(t *testing.T) {
	serveFlags.mode = "carrier-pigeon"
	defer func() { serveFlags.mode = "http" }()

	err := runServe(serveCmd, nil)
	var usageErr usageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestRunRequiresModelAndTask(t *testing.T) {
	runFlags.model = ""
	runFlags.task = ""

	err := runRun(runCmd, nil)
	var usageErr usageError
	assert.ErrorAs(t, err, &usageErr)
}
