package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/logchannel"
)

func decode(t *testing.T, stream string) ([]logchannel.Event, *logchannel.Decoder) {
	t.Helper()
	decoder := logchannel.NewDecoder()
	var events []logchannel.Event
	for _, line := range strings.Split(strings.TrimSpace(stream), "\n") {
		decoded, err := decoder.Feed(line)
		require.NoError(t, err, line)
		events = append(events, decoded...)
	}
	return events, decoder
}

func TestRun_StreamDecodes(t *testing.T) {
	var out bytes.Buffer
	w := &logWriter{out: &out, start: time.Now()}
	code := run(context.Background(), w, flagOptions{
		SessionIdentity: "worker <1>",
		LogIdentity:     "4",
		Messages:        2,
		ExitCode:        3,
	})
	assert.Equal(t, 3, code)

	events, decoder := decode(t, out.String())
	assert.True(t, decoder.Clean())

	begin := events[0].(logchannel.LogBegin)
	assert.Equal(t, "worker <1>", begin.Session)
	assert.Equal(t, "4", begin.Identity)
	assert.Contains(t, events, logchannel.DeclareState{Source: source, Tag: "Working", BeginTag: "workStart", EndTag: "workDone"})
	assert.Contains(t, events, logchannel.ActiveState{Source: source, Tag: "Working"})

	var progress []logchannel.Progress
	var tags []string
	for _, event := range events {
		if message, ok := event.(logchannel.Message); ok {
			tags = append(tags, message.Tag)
			progress = append(progress, message.Progress()...)
		}
	}
	assert.Equal(t, []string{"workStart", "step", "step", "workDone"}, tags)
	assert.Equal(t, []logchannel.Progress{{Value: 1, Max: 2}, {Value: 2, Max: 2}}, progress)
	assert.Equal(t, logchannel.LogEnd{}, events[len(events)-1])
}

func TestRun_UncleanAndInterrupted(t *testing.T) {
	var out bytes.Buffer
	run(context.Background(), &logWriter{out: &out, start: time.Now()}, flagOptions{Messages: 1, Unclean: true})
	_, decoder := decode(t, out.String())
	assert.False(t, decoder.Clean())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out.Reset()
	code := run(ctx, &logWriter{out: &out, start: time.Now()}, flagOptions{Messages: 5, RunTime: 60})
	assert.Equal(t, 1, code)
	_, decoder = decode(t, out.String())
	assert.True(t, decoder.Clean())
}
