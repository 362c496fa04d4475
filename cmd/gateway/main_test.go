package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/journal"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, opts.configPath)
	assert.Zero(t, opts.connectTimeout)
	assert.False(t, opts.showVersion)

	opts, err = parseFlags([]string{"--config", "/etc/gw.yaml", "--connect-timeout", "3s", "--version"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/gw.yaml", opts.configPath)
	assert.Equal(t, 3*time.Second, opts.connectTimeout)
	assert.True(t, opts.showVersion)

	opts, err = parseFlags([]string{"-c", "short.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "short.yaml", opts.configPath)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/from/env.yaml")

	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.yaml", opts.configPath)

	opts, err = parseFlags([]string{"--config", "flag.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "flag.yaml", opts.configPath, "flag wins over env")
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags([]string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"stray"})
	assert.Error(t, err)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(t.Context(), []string{"--version"}, &out))
	assert.Contains(t, out.String(), "graylogic-gateway dev")
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(t.Context(), []string{"--config", "/nonexistent/path/config.yaml"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

// writeConfig writes a config pointing at an unused local port with the
// journal in a temp dir.
func writeConfig(t *testing.T, reconnect bool) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "gateway.db")
	configPath = filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`
site:
  id: test-site
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "gateway-main-test"
  session:
    connect_timeout: 2
  reconnect:
    enabled: %t
    delay: 1
database:
  enabled: true
  path: %q
logging:
  level: error
  format: text
  output: discard
`, reconnect, dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath, dbPath
}

func TestRun_BrokerUnreachableWithoutReconnect(t *testing.T) {
	configPath, dbPath := writeConfig(t, false)

	err := run(t.Context(), []string{"--config", configPath}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to MQTT")

	_, statErr := os.Stat(dbPath)
	assert.NoError(t, statErr, "journal database created before connecting")
}

func TestRun_ShutdownWhileReconnecting(t *testing.T) {
	configPath, _ := writeConfig(t, true)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--config", configPath, "--connect-timeout", "100ms"}, &bytes.Buffer{})
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

type pruneRecorder struct {
	journal.Repository
	calls chan time.Time
}

func (p *pruneRecorder) Prune(_ context.Context, before time.Time) (int64, error) {
	p.calls <- before
	return 1, nil
}

func TestPruneJournal_RunsAtStartup(t *testing.T) {
	rec := &pruneRecorder{calls: make(chan time.Time, 1)}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})

	go func() {
		pruneJournal(ctx, rec, 24*time.Hour, testLogger())
		close(done)
	}()

	select {
	case before := <-rec.calls:
		assert.WithinDuration(t, time.Now().Add(-24*time.Hour), before, time.Minute)
	case <-time.After(2 * time.Second):
		t.Fatal("prune not called")
	}

	cancel()
	<-done
}

// blockingPruner holds every Prune call until its context is cancelled.
type blockingPruner struct {
	journal.Repository
	started  chan struct{}
	inflight atomic.Int32
}

func (b *blockingPruner) Prune(ctx context.Context, _ time.Time) (int64, error) {
	b.inflight.Add(1)
	defer b.inflight.Add(-1)
	b.started <- struct{}{}
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestStartPruner_StopWaitsForExit(t *testing.T) {
	repo := &blockingPruner{started: make(chan struct{}, 1)}
	stop := startPruner(t.Context(), repo, time.Hour, testLogger())

	select {
	case <-repo.started:
	case <-time.After(2 * time.Second):
		t.Fatal("prune not called")
	}

	stop()
	assert.Equal(t, int32(0), repo.inflight.Load())
}
