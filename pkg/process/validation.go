package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

const (
	SessionIdentityFlag = "--session-identity"
	LogIdentityFlag     = "--log-identity"
)

// ValidateArgv validates a resolved command line
func ValidateArgv(argv []string) error {
	if len(argv) == 0 {
		return errors.NewValidationError("empty argument list", nil)
	}
	if argv[0] == "" {
		return errors.NewLaunchError("executable path is empty", nil)
	}
	for i, arg := range argv {
		if strings.ContainsRune(arg, 0) {
			return errors.NewValidationError("argument contains a NUL byte", nil).WithContext("index", i)
		}
	}
	return nil
}

// ValidateSpawnerConfig validates spawner configuration
func ValidateSpawnerConfig(config OSSpawnerConfig) error {
	if config.WorkingDirectory != "" {
		if !filepath.IsAbs(config.WorkingDirectory) {
			return errors.NewValidationError("working directory must be absolute path", nil)
		}

		if info, err := os.Stat(config.WorkingDirectory); err != nil {
			return errors.NewValidationError("working directory not accessible: "+config.WorkingDirectory, err)
		} else if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+config.WorkingDirectory, nil)
		}
	}

	for _, env := range config.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}

// ParseIdentities extracts the session identity and process number the
// command line passes to the child
func ParseIdentities(argv []string) (identity string, number int, err error) {
	for i := 0; i+1 < len(argv); i++ {
		switch argv[i] {
		case SessionIdentityFlag:
			identity = argv[i+1]
		case LogIdentityFlag:
			number, err = strconv.Atoi(argv[i+1])
			if err != nil {
				return "", 0, errors.NewValidationError("invalid process number", err).WithContext("value", argv[i+1])
			}
		}
	}
	return identity, number, nil
}
