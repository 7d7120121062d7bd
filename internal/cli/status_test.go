package cli

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/harun/abitur/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "status", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "status")
	})

	t.Run("stopped", func(t *testing.T) {
		path, dir := writeTestConfig(t)
		store, err := session.NewFileStore(filepath.Join(dir, "sessions"), 5)
		require.NoError(t, err)
		require.NoError(t, store.Save(context.Background(), "1", nil))

		output, err := execute(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
		assert.Contains(t, output, "Session records: 1")
	})

	t.Run("running", func(t *testing.T) {
		path, dir := writeTestConfig(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "abitur.pid"), []byte(strconv.Itoa(os.Getpid())), 0644))

		output, err := execute(t, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: running")
		assert.Contains(t, output, "PID: "+strconv.Itoa(os.Getpid()))
	})
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "abitur.pid")

	assert.False(t, isRunning(pidFile))

	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))
	assert.True(t, isRunning(pidFile))

	require.NoError(t, os.WriteFile(pidFile, []byte("garbage"), 0644))
	assert.False(t, isRunning(pidFile))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
