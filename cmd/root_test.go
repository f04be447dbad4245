package main

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/config"
)

// setupConfig loads the default configuration from an empty working
// directory so relative cache and checkpoint dirs land in t.TempDir().
func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	c, err := config.Load()
	require.NoError(t, err)
	cfg = c
	return dir
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "group", "checkpoints", "cache", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "catalog-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "output", "format", "stats-out", "status-addr", "offline", "fresh", "batch-size", "max-workers", "no-checkpoints"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "false", runCmd.Flags().Lookup("offline").DefValue)
	assert.Equal(t, "0", runCmd.Flags().Lookup("batch-size").DefValue)
}

func TestRunCommand_OverrideFlagsReachConfig(t *testing.T) {
	setupConfig(t)

	// Fresh copies of the run flags so the command's own values stay untouched.
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "int":
			fs.Int(f.Name, 0, f.Usage)
		case "bool":
			fs.Bool(f.Name, false, f.Usage)
		case "string":
			fs.String(f.Name, "", f.Usage)
		}
	})
	require.NoError(t, fs.Parse([]string{"--batch-size=4", "--max-workers=2", "--no-checkpoints"}))

	c, err := config.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Batch.Size)
	assert.Equal(t, 2, c.Batch.Workers)
	assert.False(t, c.Checkpoint.Enabled)
}

func TestCheckpointsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range checkpointsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["clear"])
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)

	assert.NotNil(t, runsFailuresCmd.Flags().Lookup("namespace"))
}

func TestOpenRunStore_Disabled(t *testing.T) {
	setupConfig(t)
	_, err := openRunStore(runsListCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
