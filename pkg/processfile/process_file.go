package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

const (
	// DefaultWorkDirPrefix prefixes the private per-run work directory
	DefaultWorkDirPrefix = "eagi"

	// LogSocketName is the unix socket children stream their logs to
	LogSocketName = "eagilog.socket"

	// PIDFileName records the supervisor's own pid inside the work directory
	PIDFileName = "procman.pid"
)

// DefaultConfigExtensions are tried in order when a config name has no file behind it
var DefaultConfigExtensions = []string{".eagiproc", ".json"}

// ProcessFileConfig holds configuration for the run files of one supervisor run
type ProcessFileConfig struct {
	// Parent of the private work directory. If empty, uses OS-appropriate default
	BaseDirectory string

	// Prefix of the private work directory name
	WorkDirPrefix string

	// Per-user configuration directory searched for config names
	UserConfigDirectory string

	// Extensions appended to config names during lookup
	ConfigExtensions []string
}

// ProcessFileManager owns the per-run work directory and resolves config names
type ProcessFileManager struct {
	config  ProcessFileConfig
	logger  logging.Logger
	workDir string
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.WorkDirPrefix == "" {
		config.WorkDirPrefix = DefaultWorkDirPrefix
	}

	if config.UserConfigDirectory == "" {
		config.UserConfigDirectory = defaultUserConfigDirectory()
	}

	if len(config.ConfigExtensions) == 0 {
		config.ConfigExtensions = DefaultConfigExtensions
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Create makes the private work directory. Calling it twice is a no-op.
func (m *ProcessFileManager) Create() error {
	if m.workDir != "" {
		return nil
	}

	baseDir := m.getBaseDirectory()
	if err := ValidateDirectory(baseDir); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(baseDir, m.config.WorkDirPrefix)
	if err != nil {
		return errors.NewIOError("failed to create work directory", err).WithContext("base_directory", baseDir)
	}

	m.workDir = workDir
	m.logger.Debugf("Work directory created, path: %s", workDir)
	return nil
}

// WorkDir returns the private work directory, empty before Create
func (m *ProcessFileManager) WorkDir() string {
	return m.workDir
}

// LogSocketPath returns where the log channel server listens by default
func (m *ProcessFileManager) LogSocketPath() string {
	return filepath.Join(m.workDir, LogSocketName)
}

// PIDFilePath returns the path of the supervisor pid file
func (m *ProcessFileManager) PIDFilePath() string {
	return filepath.Join(m.workDir, PIDFileName)
}

// WritePIDFile records pid in the work directory
func (m *ProcessFileManager) WritePIDFile(pid int) error {
	if m.workDir == "" {
		return errors.NewInternalError("work directory not created", nil)
	}

	pidFilePath := m.PIDFilePath()
	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, pid: %d, path: %s, error: %v", pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, pid: %d, path: %s", pid, pidFilePath)
	return nil
}

// Cleanup removes the work directory and everything in it
func (m *ProcessFileManager) Cleanup() error {
	if m.workDir == "" {
		return nil
	}

	workDir := m.workDir
	m.workDir = ""
	if err := os.RemoveAll(workDir); err != nil {
		m.logger.Warnf("Failed to remove work directory, path: %s, error: %v", workDir, err)
		return errors.NewIOError("failed to remove work directory", err).WithContext("work_dir", workDir)
	}

	m.logger.Debugf("Work directory removed, path: %s", workDir)
	return nil
}

// ===== CONFIG LOOKUP =====

// ConfigSearchPaths returns the stems a config name may live at
func (m *ProcessFileManager) ConfigSearchPaths(name string) []string {
	paths := make([]string, 0, 2)
	if abs, err := filepath.Abs(name); err == nil {
		paths = append(paths, abs)
	} else {
		paths = append(paths, name)
	}
	paths = append(paths, filepath.Join(m.config.UserConfigDirectory, name))
	return paths
}

// FindConfigPath returns the first existing file among search paths and extensions
func (m *ProcessFileManager) FindConfigPath(name string) (string, bool) {
	for _, path := range m.ConfigSearchPaths(name) {
		for _, ext := range m.config.ConfigExtensions {
			candidate := path + ext
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}

// ResolveConfigPath maps a command-line config argument to a file path.
// Arguments with no matching file are returned unchanged.
func (m *ProcessFileManager) ResolveConfigPath(arg string) string {
	if path, found := m.FindConfigPath(arg); found {
		m.logger.Debugf("Config resolved, name: %s, path: %s", arg, path)
		return path
	}
	return arg
}

// FindConfigNames lists the config names visible from the current directory
func (m *ProcessFileManager) FindConfigNames() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, dir := range m.ConfigSearchPaths(".") {
		for _, ext := range m.config.ConfigExtensions {
			matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
			if err != nil {
				continue
			}
			for _, match := range matches {
				name := ConfigBasename(match)
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

// ConfigBasename strips directory and extension from a config path
func ConfigBasename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// getBaseDirectory returns the parent directory of the work directory
func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	// Unix socket paths are length limited, prefer the short runtime dir
	if runtime.GOOS == "linux" {
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			if info, err := os.Stat(runtimeDir); err == nil && info.IsDir() {
				return runtimeDir
			}
		}
	}
	return os.TempDir()
}

func defaultUserConfigDirectory() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "eagine")
	}
	return filepath.Join(homeDir, ".config", "eagine")
}

// ValidateDirectory checks that dir exists, creating it if needed
func ValidateDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
			}
			return nil
		}
		return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
	}
	if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
