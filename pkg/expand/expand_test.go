package expand

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/errors"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{32}$`)

func newTestExpander(opts Options) *Expander {
	if opts.Getenv == nil {
		opts.Getenv = func(string) (string, bool) { return "", false }
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "/run/eagiXYZ"
	}
	if opts.LogAddress == "" {
		opts.LogAddress = "/run/eagiXYZ/eagilog.socket"
	}
	if opts.Self == "" {
		opts.Self = "/opt/eagine/bin/procman"
	}
	return New(opts)
}

func TestExpander_ListFanOut(t *testing.T) {
	e := newTestExpander(Options{})
	vars := Bindings{"X": List("1", "2", "3")}

	values, err := e.ResolveString("v=$[X...]", vars)
	require.NoError(t, err)
	assert.Equal(t, []string{"v=1", "v=2", "v=3"}, values)

	values, err = e.ResolveString("$[MISSING...]", vars)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestExpander_ListElementsAreResolved(t *testing.T) {
	e := newTestExpander(Options{})
	vars := Bindings{
		"X":    List("${BASE}/a", "$(2*3)"),
		"BASE": Scalar("/data"),
	}

	values, err := e.ResolveString("--in=$[X...]", vars)
	require.NoError(t, err)
	assert.Equal(t, []string{"--in=/data/a", "--in=6"}, values)
}

func TestExpander_Index(t *testing.T) {
	e := newTestExpander(Options{})
	vars := Bindings{"X": List("a", "b", "c"), "E": List()}

	tests := []struct {
		template string
		expected []string
	}{
		{"$[X[0]]", []string{"a"}},
		{"$[X[4]]", []string{"b"}},
		{"pre-$[X[2]]-post", []string{"pre-c-post"}},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			values, err := e.ResolveString(tt.template, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, values)
		})
	}

	_, err := e.ResolveString("$[E[0]]", vars)
	assert.True(t, errors.IsConfigurationError(err))
	_, err = e.ResolveString("$[NOPE[1]]", vars)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestExpander_Arithmetic(t *testing.T) {
	e := newTestExpander(Options{})

	values, err := e.ResolveString("$(1+2)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, values)

	values, err = e.ResolveString("port=$(${BASE}+1)", Bindings{"BASE": Scalar("8000")})
	require.NoError(t, err)
	assert.Equal(t, []string{"port=8001"}, values)

	_, err = e.ResolveString("$(1/0)", nil)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr     string
		expected string
	}{
		{"1+2", "3"},
		{"2+3*4", "14"},
		{"10-4-3", "3"},
		{"6/2", "3"},
		{"7/2", "3.5"},
		{"7//2", "3"},
		{"-7//2", "-4"},
		{"-7%3", "2"},
		{"7%-3", "-2"},
		{"2**10", "1024"},
		{"-2**2", "-4"},
		{"--3", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			result, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	for _, bad := range []string{"", "1+", "5%0", "3//0", "99999999999999999999"} {
		_, err := Evaluate(bad)
		assert.Error(t, err, bad)
	}
}

func TestExpander_Variables(t *testing.T) {
	env := map[string]string{"FROM_ENV": "env-value"}
	e := newTestExpander(Options{
		Home:    "/home/user",
		TempDir: "/tmp",
		Getenv: func(name string) (string, bool) {
			value, found := env[name]
			return value, found
		},
	})
	vars := Bindings{
		"NAME":   Scalar("worker"),
		"NESTED": Scalar("${NAME}-1"),
		"LIST":   List("a", "b"),
	}

	tests := []struct {
		template string
		expected string
	}{
		{"${NAME}", "worker"},
		{"x-${NESTED}-y", "x-worker-1-y"},
		{"${LIST}", "a b"},
		{"${FROM_ENV}", "env-value"},
		{"${WORK_DIR}", "/run/eagiXYZ"},
		{"${HOME}", "/home/user"},
		{"${SELF}", "/opt/eagine/bin/procman"},
		{"${TEMPDIR}", "/tmp"},
		{"${UNKNOWN}", "UNKNOWN"},
		{"${NAME}${NAME}", "workerworker"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			values, err := e.ResolveString(tt.template, vars)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.expected}, values)
		})
	}
}

func TestExpander_VariableCycle(t *testing.T) {
	e := newTestExpander(Options{})
	vars := Bindings{
		"A": Scalar("${B}"),
		"B": Scalar("x${A}"),
	}

	_, err := e.ResolveString("${A}", vars)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "cyclic variable reference")

	_, err = e.ResolveString("${SELFREF}", Bindings{"SELFREF": Scalar("${SELFREF}")})
	assert.True(t, errors.IsConfigurationError(err))
}

func TestExpander_Range(t *testing.T) {
	e := newTestExpander(Options{})

	values, err := e.Resolve([]string{"$(range 1 3)", "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "x"}, values)

	values, err = e.ResolveString("n$(range 2 3)-$(range 0 1)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"n2-0", "n3-0", "n2-1", "n3-1"}, values)

	values, err = e.ResolveString("$(range 3 1)", nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestExpander_UniqueHashes(t *testing.T) {
	e := newTestExpander(Options{})

	first, err := e.ResolveString("$(uid)", nil)
	require.NoError(t, err)
	second, err := e.ResolveString("$(uid)", nil)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Regexp(t, hexHash, first[0])
	assert.NotEqual(t, first[0], second[0])

	named1, err := e.ResolveString("$(uid session)", nil)
	require.NoError(t, err)
	named2, err := e.ResolveString("--id=$(uid session)", nil)
	require.NoError(t, err)
	assert.Regexp(t, hexHash, named1[0])
	assert.Equal(t, "--id="+named1[0], named2[0])

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		h := e.UniqueHash("")
		assert.False(t, seen[h])
		seen[h] = true
	}
}

func TestExpander_PathCommands(t *testing.T) {
	e := newTestExpander(Options{})

	tests := []struct {
		template string
		expected string
	}{
		{"$(in_work_dir data.bin)", "/run/eagiXYZ/data.bin"},
		{"$(basename /a/b/c.txt)", "c.txt"},
		{"$(dirname /a/b/c.txt)", "/a/b"},
		{"$(pathid /a/b)", PathID("/a/b")},
		{"$(pathid $(in_work_dir x))", PathID("/run/eagiXYZ/x")},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			values, err := e.ResolveString(tt.template, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.expected}, values)
		})
	}

	assert.Regexp(t, `^[0-9]+$`, PathID("/a/b"))
	assert.NotEqual(t, PathID("/a/b"), PathID("/a/c"))
}

func TestExpander_WildcardAndWhich(t *testing.T) {
	e := newTestExpander(Options{
		Glob: func(pattern string) ([]string, error) {
			if pattern == "/data/*.bin" {
				return []string{"/data/a.bin", "/data/b.bin"}, nil
			}
			return nil, nil
		},
		Which: func(name string) string {
			return "/usr/bin/" + name
		},
	})

	values, err := e.ResolveString("--input=$(wildcard /data/*.bin)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"--input=/data/a.bin", "--input=/data/b.bin"}, values)

	values, err = e.ResolveString("$(wildcard /none/*)", nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = e.ResolveString("$(which ${TOOL})", Bindings{"TOOL": Scalar("cat")})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/cat"}, values)
}

func TestExpander_EAGiApp(t *testing.T) {
	e := newTestExpander(Options{
		Wrapper: ValgrindWrapper("memcheck"),
		FindApp: func(name string) (string, error) {
			if name == "demo" {
				return "/opt/eagine/bin/eagine-demo", nil
			}
			return "", errors.NewLaunchError("failed to find application", nil)
		},
	})

	values, err := e.ResolveString("$(eagiapp demo)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"valgrind", "--tool=memcheck",
		"/opt/eagine/bin/eagine-demo", "--use-asio-log", "/run/eagiXYZ/eagilog.socket",
	}, values)

	_, err = e.ResolveString("$(eagiapp missing)", nil)
	assert.True(t, errors.IsLaunchError(err))
}

func TestExpander_Adjust(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 250000000))
	e := newTestExpander(Options{Clock: fake})
	vars := Bindings{"NAME": Scalar("worker")}

	args, err := e.Adjust([]string{
		"app",
		"$<identity ${NAME}>",
		"--index=$<instance>",
		"--ts=$<timestamp>",
		"--id=$<uid>",
	}, InstanceInfo{Index: 2}, vars)
	require.NoError(t, err)
	require.Len(t, args, 6)

	assert.Equal(t, "app", args[0])
	assert.Equal(t, "--session-identity", args[1])
	assert.Equal(t, "worker", args[2])
	assert.Equal(t, "--index=2", args[3])
	assert.Equal(t, "--ts=1700000000.250000", args[4])
	assert.Regexp(t, `^--id=[0-9a-f]{32}$`, args[5])

	again, err := e.Adjust([]string{"--id=$<uid>"}, InstanceInfo{Index: 3}, vars)
	require.NoError(t, err)
	assert.NotEqual(t, args[5], again[0])
}

func TestFromValues(t *testing.T) {
	_, ok := FromValues(nil)
	assert.False(t, ok)

	binding, ok := FromValues([]string{"a"})
	assert.True(t, ok)
	assert.False(t, binding.IsList)

	binding, ok = FromValues([]string{"a", "b"})
	assert.True(t, ok)
	assert.True(t, binding.IsList)
	assert.Equal(t, "a b", binding.String())
}

func TestWhich_NotFoundReturnsName(t *testing.T) {
	assert.Equal(t, "no-such-command-procman", Which("no-such-command-procman", ""))
}

func TestWhich_ExtraDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "procman-helper-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	assert.Equal(t, path, Which("procman-helper-tool", dir))
}

func TestFindApp(t *testing.T) {
	root := t.TempDir()
	exeDir := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(filepath.Join(exeDir, "apps", "demo"), 0755))

	appPath := filepath.Join(exeDir, "apps", "demo", "eagine-demo")
	require.NoError(t, os.WriteFile(appPath, []byte("#!/bin/sh\n"), 0755))
	// Not executable, must be skipped
	require.NoError(t, os.WriteFile(filepath.Join(exeDir, "plain"), []byte(""), 0644))

	found, err := FindApp("demo", exeDir, nil)
	require.NoError(t, err)
	assert.Equal(t, appPath, found)

	_, err = FindApp("plain", exeDir, func(string) ([]string, error) { return nil, nil })
	assert.True(t, errors.IsLaunchError(err))

	found, err = FindApp("elsewhere", exeDir, func(pattern string) ([]string, error) {
		return []string{fmt.Sprintf("/opt/%s", pattern)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/elsewhere", found)
}

func TestFindApp_BinaryDirFile(t *testing.T) {
	root := t.TempDir()
	exeDir := filepath.Join(root, "share", "bin")
	buildDir := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(exeDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "example", "x"), 0755))

	appPath := filepath.Join(buildDir, "example", "x", "app-viewer")
	require.NoError(t, os.WriteFile(appPath, []byte("#!/bin/sh\n"), 0755))
	// The recorded directory is two levels below the build tree root
	require.NoError(t, os.WriteFile(filepath.Join(root, "BINARY_DIR"),
		[]byte(filepath.Join(buildDir, "a", "b")+"\n"), 0644))

	found, err := FindApp("viewer", exeDir, nil)
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(appPath)
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}
