package processfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})

	assert.Equal(t, DefaultWorkDirPrefix, manager.config.WorkDirPrefix)
	assert.Equal(t, DefaultConfigExtensions, manager.config.ConfigExtensions)
	assert.True(t, strings.HasSuffix(manager.config.UserConfigDirectory, filepath.Join(".config", "eagine")))
	assert.Empty(t, manager.WorkDir())
}

func TestProcessFileManager_WorkDirLifecycle(t *testing.T) {
	base := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: base}, &ProcessFileMockLogger{})

	require.NoError(t, manager.Create())
	workDir := manager.WorkDir()
	require.NotEmpty(t, workDir)
	assert.Equal(t, base, filepath.Dir(workDir))
	assert.True(t, strings.HasPrefix(filepath.Base(workDir), "eagi"))
	assert.Equal(t, filepath.Join(workDir, "eagilog.socket"), manager.LogSocketPath())

	// Second call keeps the same directory
	require.NoError(t, manager.Create())
	assert.Equal(t, workDir, manager.WorkDir())

	require.NoError(t, manager.WritePIDFile(4242))
	content, err := os.ReadFile(manager.PIDFilePath())
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.Cleanup())
	_, err = os.Stat(workDir)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, manager.WorkDir())
	assert.NoError(t, manager.Cleanup())
}

func TestProcessFileManager_WritePIDFileWithoutWorkDir(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})
	assert.Error(t, manager.WritePIDFile(1))
}

func TestProcessFileManager_FindConfigPath(t *testing.T) {
	userDir := t.TempDir()
	localDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(userDir, "demo.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "both.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "both.eagiproc"), []byte("{}"), 0644))

	manager := NewProcessFileManager(ProcessFileConfig{UserConfigDirectory: userDir}, &ProcessFileMockLogger{})

	t.Run("user directory", func(t *testing.T) {
		path, found := manager.FindConfigPath("demo")
		require.True(t, found)
		assert.Equal(t, filepath.Join(userDir, "demo.json"), path)
	})

	t.Run("local path wins", func(t *testing.T) {
		path, found := manager.FindConfigPath(filepath.Join(localDir, "both"))
		require.True(t, found)
		assert.Equal(t, filepath.Join(localDir, "both.eagiproc"), path)
	})

	t.Run("unknown name is returned unchanged", func(t *testing.T) {
		_, found := manager.FindConfigPath("missing")
		assert.False(t, found)
		assert.Equal(t, "missing", manager.ResolveConfigPath("missing"))
	})
}

func TestProcessFileManager_FindConfigNames(t *testing.T) {
	userDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "b.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "a.eagiproc"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "ignored.txt"), []byte(""), 0644))

	manager := NewProcessFileManager(ProcessFileConfig{UserConfigDirectory: userDir}, &ProcessFileMockLogger{})
	names := manager.FindConfigNames()

	assert.Contains(t, names, "a")
	assert.Contains(t, names, "b")
	assert.NotContains(t, names, "ignored")
}

func TestConfigBasename(t *testing.T) {
	assert.Equal(t, "demo", ConfigBasename("/x/y/demo.eagiproc"))
	assert.Equal(t, "demo", ConfigBasename("demo"))
}

func TestValidateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	require.NoError(t, ValidateDirectory(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, ValidateDirectory(file))
}
