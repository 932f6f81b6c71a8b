package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"resolve", "run", "worker", "enqueue", "serve", "cache"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "enrich", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"budget", "concurrency", "estimate", "out", "sheet", "write-back", "results"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s", name)
	}
	assert.Error(t, runCmd.Args(runCmd, nil), "run needs a source")
	assert.NoError(t, runCmd.Args(runCmd, []string{"leads.csv"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("with-worker")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestWorkerCommand_Flags(t *testing.T) {
	flag := workerCmd.Flags().Lookup("metrics-port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestCacheCommand_HasPrune(t *testing.T) {
	var found bool
	for _, c := range cacheCmd.Commands() {
		if c.Name() == "prune" {
			found = true
		}
	}
	assert.True(t, found)
}
