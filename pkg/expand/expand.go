// Package expand implements the template language used in pipeline
// configurations.
//
// A template string goes through these stages, each of which may turn one
// string into several:
//
//	$<instance> $<uid> $<timestamp> $<identity X>   launch-time adjustments
//	${NAME}                                         variables
//	$(1+2*3)                                        arithmetic
//	$(uid) $(uid K) $(range A B) $(eagiapp N) ...   named commands
//	$[NAME...] $[NAME[i]]                           list fan-out and indexing
//
// When a stage yields several values the surrounding literal text is
// repeated for each of them, so "v=$[X...]" with X = [1 2] gives "v=1" "v=2".
package expand

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

const maxExpansionDepth = 64

var (
	variablePattern   = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z_0-9]*)\}`)
	arithmeticPattern = regexp.MustCompile(`\$\(([0-9+*/%-]+)\)`)
	listPattern       = regexp.MustCompile(`\$\[([A-Za-z][A-Za-z_0-9]*)\.\.\.\]`)
	indexPattern      = regexp.MustCompile(`\$\[([A-Za-z][A-Za-z_0-9]*)\[([0-9]+)\]\]`)

	pathIDPattern    = regexp.MustCompile(`\$\(pathid\s+([^)]+)\)`)
	inWorkDirPattern = regexp.MustCompile(`\$\(in_work_dir\s+([^)]+)\)`)
	basenamePattern  = regexp.MustCompile(`\$\(basename\s+([^)]+)\)`)
	dirnamePattern   = regexp.MustCompile(`\$\(dirname\s+([^)]+)\)`)
	wildcardPattern  = regexp.MustCompile(`\$\(wildcard\s+([^)]+)\)`)
	whichPattern     = regexp.MustCompile(`\$\(which\s+([^)]+)\)`)
	eagiappPattern   = regexp.MustCompile(`\$\(eagiapp\s+([^)]+)\)`)
	rangePattern     = regexp.MustCompile(`\$\(range\s+([0-9]+)\s+([0-9]+)\)`)
	namedUIDPattern  = regexp.MustCompile(`\$\(uid\s+([^)]+)\)`)
	uidPattern       = regexp.MustCompile(`\$\(uid\)`)

	identityAdjustment  = regexp.MustCompile(`\$<identity\s+([^>]+)>`)
	timestampAdjustment = regexp.MustCompile(`\$<timestamp>`)
	instanceAdjustment  = regexp.MustCompile(`\$<instance>`)
	uidAdjustment       = regexp.MustCompile(`\$<uid>`)
)

// Binding is a resolved variable value, either one scalar or a list
type Binding struct {
	Values []string
	IsList bool
}

func Scalar(value string) Binding {
	return Binding{Values: []string{value}}
}

func List(values ...string) Binding {
	return Binding{Values: values, IsList: true}
}

// FromValues binds one value as a scalar and several as a list.
// The second result is false when there is nothing to bind.
func FromValues(values []string) (Binding, bool) {
	switch len(values) {
	case 0:
		return Binding{}, false
	case 1:
		return Scalar(values[0]), true
	default:
		return List(values...), true
	}
}

// String joins list values with single spaces
func (b Binding) String() string {
	return strings.Join(b.Values, " ")
}

// Bindings maps variable names to their values
type Bindings map[string]Binding

// Clone returns a shallow copy safe to extend
func (b Bindings) Clone() Bindings {
	result := make(Bindings, len(b))
	for name, value := range b {
		result[name] = value
	}
	return result
}

// InstanceInfo describes the pipeline instance a command line is adjusted for
type InstanceInfo struct {
	Index int
}

// rule is one named command or adjustment: a pattern and a function of its submatches
type rule struct {
	name    string
	pattern *regexp.Regexp
	apply   func(groups []string) ([]string, error)
}

// Expander resolves templates. Unique hashes handed out by $(uid) and
// friends are remembered for the lifetime of the expander.
type Expander struct {
	opts     Options
	commands []rule

	mutex       sync.Mutex
	hashes      map[string]bool
	namedHashes map[string]string
}

func New(opts Options) *Expander {
	e := &Expander{
		opts:        opts.withDefaults(),
		hashes:      make(map[string]bool),
		namedHashes: make(map[string]string),
	}
	// Inner commands are substituted first, so $(pathid $(in_work_dir x)) works
	e.commands = []rule{
		{"uid", uidPattern, func([]string) ([]string, error) {
			return []string{e.UniqueHash("")}, nil
		}},
		{"named uid", namedUIDPattern, func(g []string) ([]string, error) {
			return []string{e.UniqueHash(strings.TrimSpace(g[1]))}, nil
		}},
		{"range", rangePattern, func(g []string) ([]string, error) {
			return resolveRange(g[1], g[2])
		}},
		{"eagiapp", eagiappPattern, func(g []string) ([]string, error) {
			return e.resolveApp(strings.TrimSpace(g[1]))
		}},
		{"which", whichPattern, func(g []string) ([]string, error) {
			return []string{e.opts.Which(strings.TrimSpace(g[1]))}, nil
		}},
		{"wildcard", wildcardPattern, func(g []string) ([]string, error) {
			return e.opts.Glob(strings.TrimSpace(g[1]))
		}},
		{"dirname", dirnamePattern, func(g []string) ([]string, error) {
			return []string{filepath.Dir(strings.TrimSpace(g[1]))}, nil
		}},
		{"basename", basenamePattern, func(g []string) ([]string, error) {
			return []string{filepath.Base(strings.TrimSpace(g[1]))}, nil
		}},
		{"in_work_dir", inWorkDirPattern, func(g []string) ([]string, error) {
			return []string{filepath.Join(e.opts.WorkDir, strings.TrimSpace(g[1]))}, nil
		}},
		{"pathid", pathIDPattern, func(g []string) ([]string, error) {
			return []string{PathID(strings.TrimSpace(g[1]))}, nil
		}},
	}
	return e
}

// Resolve expands every template of a list and concatenates the results
func (e *Expander) Resolve(templates []string, vars Bindings) ([]string, error) {
	result := make([]string, 0, len(templates))
	for _, template := range templates {
		values, err := e.resolveString(template, vars, 0)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return result, nil
}

// ResolveString expands one template
func (e *Expander) ResolveString(template string, vars Bindings) ([]string, error) {
	return e.resolveString(template, vars, 0)
}

// Adjust applies launch-time adjustments for inst to args and then resolves
// the outcome like any other template.
func (e *Expander) Adjust(args []string, inst InstanceInfo, vars Bindings) ([]string, error) {
	adjustments := []rule{
		{"uid", uidAdjustment, func([]string) ([]string, error) {
			return []string{e.UniqueHash("")}, nil
		}},
		{"instance", instanceAdjustment, func([]string) ([]string, error) {
			return []string{strconv.Itoa(inst.Index)}, nil
		}},
		{"timestamp", timestampAdjustment, func([]string) ([]string, error) {
			now := e.opts.Clock.Now()
			return []string{fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000)}, nil
		}},
		{"identity", identityAdjustment, func(g []string) ([]string, error) {
			return []string{"--session-identity", strings.TrimSpace(g[1])}, nil
		}},
	}

	result := make([]string, 0, len(args)+2)
	for _, arg := range args {
		adjusted := []string{arg}
		for _, adjustment := range adjustments {
			next := make([]string, 0, len(adjusted))
			for _, value := range adjusted {
				values, err := e.applyRule(adjustment, value, 0)
				if err != nil {
					return nil, err
				}
				next = append(next, values...)
			}
			adjusted = next
		}
		resolved, err := e.Resolve(adjusted, vars)
		if err != nil {
			return nil, err
		}
		result = append(result, resolved...)
	}
	return result, nil
}

// UniqueHash returns 32 hex digits never handed out before by this expander.
// A non-empty key returns the same hash on every call.
func (e *Expander) UniqueHash(key string) string {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if key != "" {
		if hash, found := e.namedHashes[key]; found {
			return hash
		}
	}

	for {
		id := uuid.New()
		hash := hex.EncodeToString(id[:])
		if e.hashes[hash] {
			continue
		}
		e.hashes[hash] = true
		if key != "" {
			e.namedHashes[key] = hash
		}
		return hash
	}
}

// PathID derives a stable 64-bit identifier from a path
func PathID(path string) string {
	sum := blake3.Sum256([]byte(path))
	return strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 10)
}

func (e *Expander) resolveString(value string, vars Bindings, depth int) ([]string, error) {
	if depth > maxExpansionDepth {
		return nil, errors.NewConfigurationError("template expansion does not terminate", nil).
			WithContext("template", value)
	}

	value, err := e.substituteVariables(value, vars, nil)
	if err != nil {
		return nil, err
	}

	value, err = substituteArithmetic(value)
	if err != nil {
		return nil, err
	}

	values := []string{value}
	for _, command := range e.commands {
		next := make([]string, 0, len(values))
		for _, v := range values {
			expanded, err := e.applyRule(command, v, 0)
			if err != nil {
				return nil, err
			}
			next = append(next, expanded...)
		}
		values = next
	}

	result := make([]string, 0, len(values))
	for _, v := range values {
		expanded, err := e.applyLists(v, vars, depth)
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)
	}
	return result, nil
}

// applyRule replaces the last match of r in value and repeats on every
// produced string until no match remains, preserving order.
func (e *Expander) applyRule(r rule, value string, depth int) ([]string, error) {
	loc := lastMatch(r.pattern, value)
	if loc == nil {
		return []string{value}, nil
	}
	if depth > maxExpansionDepth {
		return nil, errors.NewConfigurationError("template expansion does not terminate", nil).
			WithContext("rule", r.name).
			WithContext("template", value)
	}

	items, err := r.apply(groups(value, loc))
	if err != nil {
		return nil, err
	}

	prefix, suffix := value[:loc[0]], value[loc[1]:]
	result := make([]string, 0, len(items))
	for _, item := range items {
		expanded, err := e.applyRule(r, prefix+item+suffix, depth+1)
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)
	}
	return result, nil
}

func (e *Expander) substituteVariables(value string, vars Bindings, visiting []string) (string, error) {
	var builder strings.Builder
	rest := value
	for {
		loc := variablePattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			builder.WriteString(rest)
			return builder.String(), nil
		}
		name := rest[loc[2]:loc[3]]
		for _, active := range visiting {
			if active == name {
				chain := append(append([]string{}, visiting...), name)
				return "", errors.NewConfigurationError("cyclic variable reference", nil).
					WithContext("variable", name).
					WithContext("chain", strings.Join(chain, " -> "))
			}
		}

		raw := e.lookupVariable(name, vars)
		expanded, err := e.substituteVariables(raw, vars, append(visiting, name))
		if err != nil {
			return "", err
		}

		builder.WriteString(rest[:loc[0]])
		builder.WriteString(expanded)
		rest = rest[loc[1]:]
	}
}

func (e *Expander) lookupVariable(name string, vars Bindings) string {
	if binding, found := vars[name]; found {
		return binding.String()
	}
	if value, found := e.opts.Getenv(name); found {
		return value
	}
	switch name {
	case "WORK_DIR":
		return e.opts.WorkDir
	case "HOME":
		return e.opts.Home
	case "SELF":
		return e.opts.Self
	case "TEMPDIR":
		return e.opts.TempDir
	}
	return name
}

func substituteArithmetic(value string) (string, error) {
	for {
		loc := lastMatch(arithmeticPattern, value)
		if loc == nil {
			return value, nil
		}
		result, err := Evaluate(value[loc[2]:loc[3]])
		if err != nil {
			return "", err
		}
		value = value[:loc[0]] + result + value[loc[1]:]
	}
}

func (e *Expander) applyLists(value string, vars Bindings, depth int) ([]string, error) {
	if loc := lastMatch(listPattern, value); loc != nil {
		name := value[loc[2]:loc[3]]
		prefix, suffix := value[:loc[0]], value[loc[1]:]
		result := make([]string, 0)
		for _, item := range vars[name].Values {
			expanded, err := e.resolveString(prefix+item+suffix, vars, depth+1)
			if err != nil {
				return nil, err
			}
			result = append(result, expanded...)
		}
		return result, nil
	}

	if loc := lastMatch(indexPattern, value); loc != nil {
		name := value[loc[2]:loc[3]]
		index, err := strconv.Atoi(value[loc[4]:loc[5]])
		if err != nil {
			return nil, errors.NewConfigurationError("invalid list index", err).WithContext("template", value)
		}
		items := vars[name].Values
		if len(items) == 0 {
			return nil, errors.NewConfigurationError("indexing an empty or unbound list", nil).
				WithContext("variable", name)
		}
		return e.resolveString(value[:loc[0]]+items[index%len(items)]+value[loc[1]:], vars, depth+1)
	}

	return []string{value}, nil
}

func (e *Expander) resolveApp(name string) ([]string, error) {
	path, err := e.opts.FindApp(name)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(e.opts.Wrapper)+3)
	result = append(result, e.opts.Wrapper...)
	return append(result, path, "--use-asio-log", e.opts.LogAddress), nil
}

func resolveRange(from, to string) ([]string, error) {
	first, err := strconv.Atoi(from)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid range start", err).WithContext("value", from)
	}
	last, err := strconv.Atoi(to)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid range end", err).WithContext("value", to)
	}
	result := make([]string, 0)
	for i := first; i <= last; i++ {
		result = append(result, strconv.Itoa(i))
	}
	return result, nil
}

func lastMatch(pattern *regexp.Regexp, value string) []int {
	all := pattern.FindAllStringSubmatchIndex(value, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func groups(value string, loc []int) []string {
	result := make([]string, len(loc)/2)
	for i := range result {
		if loc[2*i] >= 0 {
			result[i] = value[loc[2*i]:loc[2*i+1]]
		}
	}
	return result
}
