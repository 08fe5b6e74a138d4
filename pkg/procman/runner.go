// Package procman runs a composition of pipelines until it finishes and
// reports whether the configured expectations held.
package procman

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/expand"
	"github.com/core-tools/hsu-procman/pkg/expect"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/pipeline"
	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/processfile"
	"github.com/core-tools/hsu-procman/pkg/tracker"
)

// Run loads the configuration and supervises its pipelines until all of
// them finish. The result is 0 when every expectation held and 1 otherwise.
func Run(ctx context.Context, opts Options, logger logging.Logger) (int, error) {
	if err := ValidateOptions(opts); err != nil {
		return 1, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory:       opts.BaseDirectory,
		UserConfigDirectory: opts.UserConfigDirectory,
	}, logger)
	if err := files.Create(); err != nil {
		return 1, err
	}
	defer files.Cleanup()

	if err := files.WritePIDFile(os.Getpid()); err != nil {
		logger.Warnf("Continuing without PID file, error: %v", err)
	}

	serverConfig := logchannel.ServerConfig{
		Network: "unix",
		Address: files.LogSocketPath(),
		Forward: opts.Forward,
	}
	if opts.ListenNetwork != "" {
		serverConfig.Network = "tcp"
		serverConfig.Address = opts.ListenNetwork
	}

	expander := expand.New(expand.Options{
		WorkDir:    files.WorkDir(),
		LogAddress: serverConfig.Address,
		Wrapper:    opts.Wrapper,
		Clock:      opts.Clock,
	})

	paths := make([]string, 0, len(opts.Configs))
	for _, arg := range opts.Configs {
		paths = append(paths, files.ResolveConfigPath(arg))
	}
	logger.Infof("Loading configuration, files: %v", paths)

	composition, err := config.Load(paths, config.Options{
		Overrides: opts.Overrides,
		Instances: opts.Instances,
		Parallel:  opts.Parallel,
		Expander:  expander,
	}, logger)
	if err != nil {
		return 1, err
	}

	if opts.PrintConfig {
		if err := composition.PrintJSON(opts.Output); err != nil {
			return 1, err
		}
	}
	if opts.DryRun {
		logger.Infof("Dry run, pipelines: %d", len(composition.Pipelines))
		if err := printPlan(opts.Output, composition.Pipelines); err != nil {
			return 1, err
		}
		return 0, nil
	}

	server := logchannel.NewServer(serverConfig, logger)
	if err := server.Listen(); err != nil {
		return 1, err
	}

	spawner := opts.Spawner
	var exits <-chan process.Exit
	if spawner == nil {
		spawner = process.NewOSSpawner(process.OSSpawnerConfig{}, logger)
		reaper := process.StartReaper(logger)
		defer reaper.Stop()
		exits = reaper.Exits()
	}

	comp := pipeline.New(composition.Pipelines, pipeline.Env{
		Spawner:  spawner,
		Expander: expander,
		Clock:    opts.Clock,
		Logger:   logger,
	})
	track := tracker.New(expect.Build(composition.Expect, logger), comp, opts.Clock, logger)
	comp.SetObserver(track)

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Supervisor running, pipelines: %d, log address: %s", len(composition.Pipelines), server.Addr())

	loop := &eventLoop{
		comp:    comp,
		tracker: track,
		open:    make(map[int]bool),
		logger:  logger,
	}
	loop.run(ctx, server.Events(), exits, sig, opts.TickInterval)

	if err := server.Close(); err != nil {
		logger.Warnf("Failed to close log server, error: %v", err)
	}
	for event := range server.Events() {
		loop.handleConnEvent(event)
	}
	loop.finishOpenStreams()

	result := track.Result()
	if failures := comp.LaunchFailures(); failures > 0 {
		logger.Errorf("Failed to launch %d instance(s)", failures)
		result = 1
	}
	logger.Infof("Supervisor finished, result: %d", result)
	return result, nil
}

// eventLoop feeds log events, exits and signals into the composition
// between scheduling ticks
type eventLoop struct {
	comp    *pipeline.Composition
	tracker *tracker.Tracker
	open    map[int]bool
	logger  logging.Logger
}

func (l *eventLoop) run(ctx context.Context, events <-chan logchannel.ConnEvent, exits <-chan process.Exit, sig <-chan os.Signal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	for l.comp.Manage() {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.handleConnEvent(event)
		case exit := <-exits:
			if !l.comp.HandleExit(exit.Pid, exit.Code) {
				l.logger.Debugf("Exit of unknown child, pid: %d, code: %d", exit.Pid, exit.Code)
			}
		case received := <-sig:
			l.logger.Infof("Received signal, stopping: %v", received)
			l.comp.Stop()
		case <-done:
			l.logger.Infof("Context cancelled, stopping: %v", ctx.Err())
			l.comp.Stop()
			done = nil
		case <-ticker.C:
		}
	}
}

func (l *eventLoop) handleConnEvent(event logchannel.ConnEvent) {
	l.open[event.Source] = true
	if len(event.Events) > 0 {
		l.tracker.HandleEvents(event.Source, event.Events)
	}
	if event.Closed {
		l.tracker.FinishLog(event.Source, event.Clean)
		delete(l.open, event.Source)
	}
}

// finishOpenStreams closes streams whose connection never reported closing
func (l *eventLoop) finishOpenStreams() {
	for source := range l.open {
		l.tracker.FinishLog(source, false)
		delete(l.open, source)
	}
}
