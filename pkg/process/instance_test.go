package process_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/process/processtest"
)

func startInstance(t *testing.T, argv ...string) (*process.Instance, *processtest.FakeChild, *clock.Fake) {
	t.Helper()
	spawner := processtest.NewFakeSpawner()
	clk := clock.NewFake(time.Unix(1000, 0))
	instance, err := process.Start(spawner, argv, clk)
	require.NoError(t, err)
	return instance, spawner.Children()[0], clk
}

func TestStart_ParsesIdentities(t *testing.T) {
	instance, child, clk := startInstance(t, "app", "--session-identity", "worker", "--log-identity", "7")

	assert.Equal(t, "worker", instance.Identity())
	assert.Equal(t, 7, instance.Number())
	assert.Equal(t, child.Pid(), instance.Pid())
	assert.Equal(t, clk.Now(), instance.StartTime())
	assert.Equal(t, []string{"app", "--session-identity", "worker", "--log-identity", "7"}, instance.Argv())
}

func TestStart_Errors(t *testing.T) {
	spawner := processtest.NewFakeSpawner()
	clk := clock.NewFake(time.Unix(0, 0))

	_, err := process.Start(spawner, nil, clk)
	assert.True(t, errors.IsValidationError(err))

	_, err = process.Start(spawner, []string{"app", "--log-identity", "x"}, clk)
	assert.True(t, errors.IsValidationError(err))

	spawner.Fail = func([]string) bool { return true }
	_, err = process.Start(spawner, []string{"app"}, clk)
	assert.True(t, errors.IsLaunchError(err))
	assert.Empty(t, spawner.Children())
}

func TestInstance_RunningAfterDwell(t *testing.T) {
	instance, child, clk := startInstance(t, "app")

	assert.False(t, instance.IsRunning())
	clk.Advance(process.MinRunningDwell)
	assert.False(t, instance.IsRunning())
	clk.Advance(time.Millisecond)
	assert.True(t, instance.IsRunning())

	child.Exit(0)
	assert.False(t, instance.IsRunning())
	assert.True(t, instance.IsFinished())
}

func TestInstance_FirstExitWins(t *testing.T) {
	instance, child, _ := startInstance(t, "app")

	assert.False(t, instance.HandleExit(child.Pid()+1, 3))
	_, finished := instance.ExitCode()
	assert.False(t, finished)

	exit := child.Reap(2)
	assert.False(t, instance.IsFinished())
	assert.True(t, instance.HandleExit(exit.Pid, exit.Code))
	assert.True(t, instance.HandleExit(exit.Pid, 9))
	instance.Abandon()

	code, finished := instance.ExitCode()
	assert.True(t, finished)
	assert.Equal(t, 2, code)

	code, taken := instance.TakeExit()
	assert.True(t, taken)
	assert.Equal(t, 2, code)
	_, taken = instance.TakeExit()
	assert.False(t, taken)
}

func TestInstance_AbandonRecordsSyntheticExit(t *testing.T) {
	instance, _, _ := startInstance(t, "app")
	instance.Abandon()

	code, finished := instance.ExitCode()
	assert.True(t, finished)
	assert.Equal(t, process.AbandonedExitCode, code)
}

func TestInstance_SignalsAreIdempotentAfterExit(t *testing.T) {
	instance, child, _ := startInstance(t, "app")

	require.NoError(t, instance.Terminate())
	require.NoError(t, instance.Kill())
	assert.Equal(t, 1, child.Terminated())
	assert.Equal(t, 1, child.Killed())

	child.Exit(0)
	assert.True(t, instance.IsFinished())
	require.NoError(t, instance.Terminate())
	require.NoError(t, instance.Kill())
	assert.Equal(t, 1, child.Terminated())
	assert.Equal(t, 1, child.Killed())
}

func TestInstance_ActiveStates(t *testing.T) {
	instance, _, clk := startInstance(t, "app")
	clk.Advance(time.Second)

	assert.True(t, instance.IsActive())

	busy := process.State{Source: "App", Tag: "busy"}
	idle := process.State{Source: "App", Tag: "idle"}
	instance.AddActiveState(busy)
	assert.False(t, instance.IsActive())

	info := instance.BeginState(idle, clk.Now())
	assert.False(t, info.Active)
	assert.False(t, instance.IsActive())

	clk.Advance(time.Second)
	info = instance.BeginState(busy, clk.Now())
	assert.True(t, info.Active)
	assert.True(t, instance.IsActive())
	assert.Equal(t, []process.State{idle, busy}, instance.States())

	clk.Advance(time.Second)
	ended, found := instance.EndState(busy, clk.Now())
	require.True(t, found)
	assert.Equal(t, time.Second, ended.End.Sub(ended.Begin))
	assert.False(t, instance.IsActive())

	_, found = instance.EndState(busy, clk.Now())
	assert.False(t, found)
}

func TestInstance_Progress(t *testing.T) {
	instance, _, _ := startInstance(t, "app")

	_, found := instance.Progress()
	assert.False(t, found)

	instance.UpdateProgress(logchannel.Progress{Value: 5, Min: 0, Max: 10})
	progress, found := instance.Progress()
	assert.True(t, found)
	assert.Equal(t, 50.0, progress.Percent())
}

func TestValidateArgv(t *testing.T) {
	assert.NoError(t, process.ValidateArgv([]string{"app", "x"}))
	assert.Error(t, process.ValidateArgv([]string{}))
	assert.True(t, errors.IsLaunchError(process.ValidateArgv([]string{""})))
	assert.Error(t, process.ValidateArgv([]string{"app", "a\x00b"}))
}

func TestValidateSpawnerConfig(t *testing.T) {
	assert.NoError(t, process.ValidateSpawnerConfig(process.OSSpawnerConfig{}))
	assert.Error(t, process.ValidateSpawnerConfig(process.OSSpawnerConfig{WorkingDirectory: "relative"}))
	assert.Error(t, process.ValidateSpawnerConfig(process.OSSpawnerConfig{Environment: []string{"NOVALUE"}}))
	assert.NoError(t, process.ValidateSpawnerConfig(process.OSSpawnerConfig{
		WorkingDirectory: t.TempDir(),
		Environment:      []string{"A=1"},
	}))
}
