package procman

import (
	"io"
	"time"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/process"
)

// DefaultTickInterval is the longest the scheduler waits between ticks
const DefaultTickInterval = time.Second

// Options configures one supervisor run
type Options struct {
	// Config paths or names, merged in order
	Configs   []string
	Overrides []config.Override
	Instances []config.Count
	Parallel  []config.Count

	// Command prefix for located applications, e.g. valgrind --tool=memcheck
	Wrapper []string

	DryRun      bool
	PrintConfig bool
	// Destination of PrintConfig, stdout when nil
	Output io.Writer

	// Forward raw log traffic to another listener
	Forward *logchannel.Forward
	// Listen for logs on TCP instead of a unix socket in the work directory
	ListenNetwork string

	// Parent directory of the private work directory
	BaseDirectory string
	// Per-user directory searched for config names
	UserConfigDirectory string

	// Spawner replaces the OS spawner; no reaper runs when it is set
	Spawner      process.Spawner
	Clock        clock.Clock
	TickInterval time.Duration
}

// ValidateOptions checks options that do not depend on the configuration
func ValidateOptions(opts Options) error {
	if opts.TickInterval < 0 {
		return errors.NewValidationError("tick interval must not be negative", nil).
			WithContext("tick_interval", opts.TickInterval)
	}
	for _, count := range opts.Instances {
		if count.Identity == "" {
			return errors.NewValidationError("instance count needs a pipeline identity", nil)
		}
	}
	for _, count := range opts.Parallel {
		if count.Identity == "" {
			return errors.NewValidationError("parallel count needs a pipeline identity", nil)
		}
	}
	return nil
}
