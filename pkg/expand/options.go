package expand

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/errors"
)

// AppPrefixes are tried in front of an application name by $(eagiapp NAME)
var AppPrefixes = []string{"eagine", "app", "oglplus", "oalplus", "eglplus"}

// Options configures an Expander. Zero fields get OS-backed defaults.
type Options struct {
	// Private work directory of the run, used by $(in_work_dir) and ${WORK_DIR}
	WorkDir string
	// Address children pass to --use-asio-log
	LogAddress string
	// Absolute path of the running executable, ${SELF}
	Self string
	Home string
	// ${TEMPDIR}
	TempDir string
	// Command prefix for every $(eagiapp) result, e.g. valgrind --tool=memcheck
	Wrapper []string

	Getenv  func(name string) (string, bool)
	Glob    func(pattern string) ([]string, error)
	Which   func(name string) string
	FindApp func(name string) (string, error)
	Clock   clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Self == "" {
		if self, err := os.Executable(); err == nil {
			o.Self = self
		}
	}
	if o.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			o.Home = home
		}
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.Getenv == nil {
		o.Getenv = os.LookupEnv
	}
	if o.Glob == nil {
		o.Glob = Glob
	}
	if o.Which == nil {
		exeDir := filepath.Dir(o.Self)
		o.Which = func(name string) string {
			return Which(name, exeDir)
		}
	}
	if o.FindApp == nil {
		exeDir := filepath.Dir(o.Self)
		glob := o.Glob
		o.FindApp = func(name string) (string, error) {
			return FindApp(name, exeDir, glob)
		}
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// ValgrindWrapper returns the command prefix for a valgrind tool, nil for none
func ValgrindWrapper(tool string) []string {
	if tool == "" {
		return nil
	}
	return []string{"valgrind", "--tool=" + tool}
}

// Glob returns the resolved real paths of the files matching pattern, in lexical order
func Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid wildcard pattern", err).WithContext("pattern", pattern)
	}
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		result = append(result, realPath(match))
	}
	return result, nil
}

// Which searches PATH and then extraDir for an executable file called name.
// The bare name is returned when nothing is found.
func Which(name, extraDir string) string {
	dirs := filepath.SplitList(os.Getenv("PATH"))
	if extraDir != "" {
		dirs = append(dirs, extraDir)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			return candidate
		}
	}
	return name
}

// FindApp looks for an application binary next to the supervisor, in the
// shared install location, in the build and install trees recorded by the
// BINARY_DIR and INSTALL_PREFIX files, and finally treats name as a wildcard.
func FindApp(name, exeDir string, glob func(string) ([]string, error)) (string, error) {
	options := make([]string, 0, len(AppPrefixes)+1)
	options = append(options, name)
	for _, prefix := range AppPrefixes {
		options = append(options, prefix+"-"+name)
	}

	roots := []string{
		exeDir,
		filepath.Join(exeDir, "..", "share", "eagine"),
		pathFromFile(filepath.Join(exeDir, "..", "..", "BINARY_DIR")),
		pathFromFile(filepath.Join(exeDir, "..", "..", "INSTALL_PREFIX")),
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		for _, option := range options {
			if found := scanTree(option, root); found != "" {
				return found, nil
			}
		}
	}

	if glob != nil {
		if matches, err := glob(name); err == nil && len(matches) > 0 {
			return matches[0], nil
		}
	}

	return "", errors.NewLaunchError("failed to find application", nil).WithContext("application", name)
}

// pathFromFile reads a directory from the first line of path and returns
// the directory two levels above it
func pathFromFile(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return ""
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return ""
	}
	return realPath(filepath.Join(line, "..", ".."))
}

// scanTree walks root depth-first for an executable file called what
func scanTree(what, root string) string {
	found := ""
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.Name() == what && path != root && isExecutableFile(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0100 != 0
}

func realPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
