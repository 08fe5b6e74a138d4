package main

import (
	"testing"

	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
)

func parse(t *testing.T, args ...string) flagOptions {
	t.Helper()
	var opts flagOptions
	_, err := flags.NewParser(&opts, flags.HelpFlag).ParseArgs(args)
	require.NoError(t, err)
	return opts
}

func TestRunOptions_FullCommandLine(t *testing.T) {
	opts := parse(t,
		"-D", "-S", "MODE=fast", "--set", "EMPTY=",
		"-I", "render=3", "-P", "render=2",
		"--memcheck", "-C", "--dry-run",
		"first", "second.json")

	run, err := runOptions(opts)
	require.NoError(t, err)

	assert.True(t, opts.Debug)
	assert.True(t, run.DryRun)
	assert.True(t, run.PrintConfig)
	assert.Equal(t, []string{"first", "second.json"}, run.Configs)
	assert.Equal(t, []config.Override{{Name: "MODE", Value: "fast"}, {Name: "EMPTY", Value: ""}}, run.Overrides)
	assert.Equal(t, []config.Count{{Identity: "render", Count: 3}}, run.Instances)
	assert.Equal(t, []config.Count{{Identity: "render", Count: 2}}, run.Parallel)
	assert.Equal(t, []string{"valgrind", "--tool=memcheck"}, run.Wrapper)
	assert.Nil(t, run.Forward)
}

func TestRunOptions_ValgrindToolsAreExclusive(t *testing.T) {
	_, err := runOptions(parse(t, "--memcheck", "--helgrind"))
	assert.True(t, errors.IsValidationError(err))
}

func TestRunOptions_InvalidCounts(t *testing.T) {
	_, err := runOptions(parse(t, "-I", "render=0"))
	assert.True(t, errors.IsValidationError(err))

	_, err = runOptions(parse(t, "-P", "render"))
	assert.True(t, errors.IsValidationError(err))

	_, err = runOptions(parse(t, "-S", "=value"))
	assert.True(t, errors.IsValidationError(err))
}

func TestRunOptions_Forwarding(t *testing.T) {
	run, err := runOptions(parse(t, "--forward-network-socket"))
	require.NoError(t, err)
	assert.Equal(t, logchannel.NetworkForward(logchannel.DefaultForwardAddress), run.Forward)

	run, err = runOptions(parse(t, "-n", "--forward-local-socket=/tmp/other"))
	require.NoError(t, err)
	assert.Equal(t, logchannel.LocalForward("/tmp/other"), run.Forward)
}

func TestRunOptions_Defaults(t *testing.T) {
	opts := parse(t)
	assert.Equal(t, "console", opts.LogFormat)
	assert.Equal(t, "stderr", opts.LogOutput)

	run, err := runOptions(opts)
	require.NoError(t, err)
	assert.Empty(t, run.Configs)
	assert.Nil(t, run.Wrapper)
}
