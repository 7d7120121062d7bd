package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	useFakeProvider(t, &fakeProvider{answer: "ok"})
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	d := newTestDaemon(t, cfg)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "abitur.pid"), lm.PIDFile())
}

func TestLifecycleManagerStartStop(t *testing.T) {
	useFakeProvider(t, &fakeProvider{answer: "ok"})
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	d := newTestDaemon(t, cfg)
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.PIDFile())
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())

	// Stopping twice is fine.
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerReplacesStalePIDFile(t *testing.T) {
	useFakeProvider(t, &fakeProvider{answer: "ok"})
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	d := newTestDaemon(t, cfg)
	lm := NewLifecycleManager(d)

	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte("not-a-pid"), 0644))
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, lm.Stop())
}

func TestLifecycleManagerRefusesLiveForeignPID(t *testing.T) {
	useFakeProvider(t, &fakeProvider{answer: "ok"})
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	d := newTestDaemon(t, cfg)
	lm := NewLifecycleManager(d)

	// The parent of the test binary is alive for the whole test.
	ppid := os.Getppid()
	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte(strconv.Itoa(ppid)), 0644))

	assert.Error(t, lm.Start())
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))

	path := filepath.Join(dir, "abitur.pid")
	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0644))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
