package process

import (
	"os"
	"os/exec"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

// Child is one spawned OS process
type Child interface {
	Pid() int
	// Terminate asks the child to stop (SIGTERM to its process group)
	Terminate() error
	// Kill stops the child forcibly (SIGKILL to its process group)
	Kill() error
	// Poll reaps the child without blocking and returns its exit code once
	// it has finished. A signalled child reports the negated signal number.
	Poll() (int, bool)
}

// Spawner starts child processes
type Spawner interface {
	Spawn(argv []string) (Child, error)
}

type OSSpawnerConfig struct {
	// Working directory of the children, the current one when empty
	WorkingDirectory string
	// Extra NAME=VALUE entries appended to the inherited environment
	Environment []string
}

// OSSpawner starts real processes in their own process group, sharing the
// supervisor's stdout and stderr
type OSSpawner struct {
	config OSSpawnerConfig
	logger logging.Logger
}

func NewOSSpawner(config OSSpawnerConfig, logger logging.Logger) *OSSpawner {
	return &OSSpawner{config: config, logger: logger}
}

func (s *OSSpawner) Spawn(argv []string) (Child, error) {
	if err := ValidateArgv(argv); err != nil {
		return nil, err
	}

	if err := ValidateSpawnerConfig(s.config); err != nil {
		return nil, errors.NewValidationError("invalid spawner configuration", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.config.WorkingDirectory
	cmd.Env = append(os.Environ(), s.config.Environment...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// Platform-specific setup is handled in execute_unix.go or execute_windows.go
	setupProcessAttributes(cmd)

	s.logger.Debugf("Spawning process, args: %v", argv)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewLaunchError("failed to start the process", err).WithContext("executable_path", argv[0])
	}

	return newOSChild(cmd), nil
}
