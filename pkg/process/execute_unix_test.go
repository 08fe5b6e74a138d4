//go:build !windows

package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/logging"
)

func waitForExit(t *testing.T, child Child) int {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if code, done := child.Poll(); done {
			return code
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("child did not exit")
	return 0
}

func TestOSSpawner_ExitCode(t *testing.T) {
	spawner := NewOSSpawner(OSSpawnerConfig{}, logging.NewNopLogger())

	child, err := spawner.Spawn([]string{"/bin/sh", "-c", "exit 3"})
	require.NoError(t, err)
	assert.Greater(t, child.Pid(), 0)
	assert.Equal(t, 3, waitForExit(t, child))
}

func TestOSSpawner_TerminateReportsSignal(t *testing.T) {
	spawner := NewOSSpawner(OSSpawnerConfig{}, logging.NewNopLogger())

	child, err := spawner.Spawn([]string{"/bin/sh", "-c", "exec sleep 30"})
	require.NoError(t, err)

	_, done := child.Poll()
	assert.False(t, done)

	require.NoError(t, child.Terminate())
	assert.Equal(t, -15, waitForExit(t, child))

	// Signalling a reaped group is not an error
	assert.NoError(t, child.Kill())
}

func TestOSSpawner_MissingExecutable(t *testing.T) {
	spawner := NewOSSpawner(OSSpawnerConfig{}, logging.NewNopLogger())

	_, err := spawner.Spawn([]string{"/nonexistent/procman-test-binary"})
	assert.Error(t, err)
}

func TestReaper_DeliversExits(t *testing.T) {
	reaper := StartReaper(logging.NewNopLogger())
	defer reaper.Stop()

	spawner := NewOSSpawner(OSSpawnerConfig{}, logging.NewNopLogger())
	child, err := spawner.Spawn([]string{"/bin/sh", "-c", "exit 4"})
	require.NoError(t, err)

	timeout := time.After(10 * time.Second)
	for {
		select {
		case exit := <-reaper.Exits():
			if exit.Pid == child.Pid() {
				assert.Equal(t, 4, exit.Code)
				_, done := child.Poll()
				assert.False(t, done)
				return
			}
		case <-timeout:
			t.Fatal("reaper did not report the exit")
		}
	}
}
