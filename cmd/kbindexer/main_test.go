package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_DSN", "")

	raw := `
database:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "kb.db") + `
vector_store:
  backend: memory
lock:
  backend: memory
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		configPath = ""
		recoverStatus = "failed"
		recoverOlder = 30 * time.Minute
		jobsLimit = 20
	}()

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}

	for _, want := range []string{"serve", "scrape", "vectorize", "search", "jobs", "migrate"} {
		assert.Contains(t, names, want)
	}
}

func TestJobsCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0, len(jobsCmd.Commands()))
	for _, cmd := range jobsCmd.Commands() {
		names = append(names, cmd.Name())
	}

	assert.Contains(t, names, "list")
	assert.Contains(t, names, "recover")
}

func TestScrapeCmd_Flags(t *testing.T) {
	assert.NotNil(t, scrapeCmd.Flags().Lookup("resume"))
	assert.NotNil(t, scrapeCmd.Flags().Lookup("batch-size"))
	assert.NotNil(t, scrapeCmd.Flags().Lookup("follow"))
	assert.NotNil(t, vectorizeCmd.Flags().Lookup("force-all"))
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "search")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestMigrateCmd_SeedsSchedules(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "migrate", "--config", path)

	require.NoError(t, err)
	assert.Contains(t, out, "database ready, 1 schedule(s)")
}

func TestJobsListCmd_Empty(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "jobs", "list", "--config", path)

	require.NoError(t, err)
	assert.Contains(t, out, "No jobs.")
}

func TestJobsRecoverCmd(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "jobs", "recover", "--config", path, "--older-than", "1m")

	require.NoError(t, err)
	assert.Contains(t, out, "recovered 0 job(s)")
}

func TestJobsRecoverCmd_RejectsNonTerminalStatus(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "jobs", "recover", "--config", path, "--status", "running")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")
}

func TestSearchCmd_MissingCredentials(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "search", "reset password", "--config", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")
}

func TestVectorizeCmd_MissingCredentials(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "vectorize", "--config", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectorize failed")
}
