package expect

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/antchfx/xpath"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

var (
	runTimePattern   = regexp.MustCompile(`^(=|!=|<|>|<=|>=)([0-9]+)$`)
	countPattern     = regexp.MustCompile(`^count\((.*)\)(=|!=|<|>|<=|>=)([0-9]+)$`)
	aggregatePattern = regexp.MustCompile(`^(sum|min|max|avg|lean)\((.*)/@(\w+)\)(=|!=|<|>|<=|>=)([0-9]+(\.[0-9]+)?)$`)
)

// Expectation is checked once when the run is over
type Expectation interface {
	Check(logger logging.Logger) bool
}

// LogExpectation is updated with every message of its identity
type LogExpectation interface {
	Expectation
	Update(message *MessageInfo)
}

// ===== CLEAN SHUTDOWN =====

type CleanShutdown struct {
	identity  string
	satisfied bool
}

func NewCleanShutdown(identity string) *CleanShutdown {
	return &CleanShutdown{identity: identity}
}

// Update records the shutdown status of the latest stream
func (e *CleanShutdown) Update(clean bool) {
	e.satisfied = clean
}

func (e *CleanShutdown) Check(logger logging.Logger) bool {
	if e.satisfied {
		return true
	}
	logger.Errorf("unexpected failed shutdown of '%s'", e.identity)
	return false
}

// ===== EXIT CODE =====

type ExitCode struct {
	identity string
	expected int
	actual   []int
}

func NewExitCode(identity string, expected int) *ExitCode {
	return &ExitCode{identity: identity, expected: expected}
}

func (e *ExitCode) Update(code int) {
	e.actual = append(e.actual, code)
}

// Check fails when no exit was observed, and reports each distinct
// unexpected code once
func (e *ExitCode) Check(logger logging.Logger) bool {
	if len(e.actual) == 0 {
		logger.Errorf("did not receive exit notification of '%s'", e.identity)
		return false
	}

	distinct := make(map[int]bool)
	for _, code := range e.actual {
		distinct[code] = true
	}
	codes := make([]int, 0, len(distinct))
	for code := range distinct {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	result := true
	for _, code := range codes {
		if code != e.expected {
			logger.Errorf("unexpected exit code %d of '%s', expected: %d", code, e.identity, e.expected)
			result = false
		}
	}
	return result
}

// Unexpected returns the distinct observed codes differing from the expected one
func (e *ExitCode) Unexpected() []int {
	seen := make(map[int]bool)
	var result []int
	for _, code := range e.actual {
		if code != e.expected && !seen[code] {
			seen[code] = true
			result = append(result, code)
		}
	}
	return result
}

// ===== RUN TIME =====

type RunTime struct {
	identity string
	operator Operator
	expected time.Duration
	actual   []time.Duration
}

// ParseRunTime parses "OPn" with n in seconds
func ParseRunTime(identity, definition string) (*RunTime, error) {
	match := runTimePattern.FindStringSubmatch(definition)
	if match == nil {
		return nil, errors.NewConfigurationError("invalid run time expectation", nil).
			WithContext("identity", identity).
			WithContext("definition", definition)
	}
	seconds, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid run time value", err).WithContext("definition", definition)
	}
	return &RunTime{
		identity: identity,
		operator: Operator(match[1]),
		expected: time.Duration(seconds) * time.Second,
	}, nil
}

func (e *RunTime) Update(runTime time.Duration) {
	e.actual = append(e.actual, runTime)
}

func (e *RunTime) Check(logger logging.Logger) bool {
	result := true
	for _, runTime := range e.actual {
		if !e.operator.Compare(runTime.Seconds(), e.expected.Seconds()) {
			logger.Errorf("run time %s of '%s' is expected to be %s %s",
				FormatDuration(runTime), e.identity, e.operator, FormatDuration(e.expected))
			result = false
		}
	}
	return result
}

// ===== LOG COUNT =====

// LogCount counts the messages on which an XPath expression matches
type LogCount struct {
	identity string
	xpath    string
	compiled *xpath.Expr
	operator Operator
	expected int
	count    int
}

func ParseLogCount(identity, definition string) (*LogCount, bool) {
	match := countPattern.FindStringSubmatch(definition)
	if match == nil {
		return nil, false
	}
	expected, err := strconv.Atoi(match[3])
	if err != nil {
		return nil, false
	}
	compiled, err := compileXPath(match[1])
	if err != nil {
		return nil, false
	}
	return &LogCount{
		identity: identity,
		xpath:    match[1],
		compiled: compiled,
		operator: Operator(match[2]),
		expected: expected,
	}, true
}

func (e *LogCount) Update(message *MessageInfo) {
	if len(message.Select(e.compiled)) > 0 {
		e.count++
	}
}

func (e *LogCount) Check(logger logging.Logger) bool {
	if e.operator.Compare(float64(e.count), float64(e.expected)) {
		return true
	}
	logger.Errorf("count %d of '%s' from '%s' is expected to be %s %d",
		e.count, e.xpath, e.identity, e.operator, e.expected)
	return false
}

// ===== LOG AGGREGATE =====

// LogAggregate folds a numeric attribute of the matching nodes
type LogAggregate struct {
	identity  string
	function  string
	xpath     string
	compiled  *xpath.Expr
	attribute string
	operator  Operator
	expected  float64

	n   int
	sum float64
	min float64
	max float64
}

func ParseLogAggregate(identity, definition string) (*LogAggregate, bool) {
	match := aggregatePattern.FindStringSubmatch(definition)
	if match == nil {
		return nil, false
	}
	expected, err := strconv.ParseFloat(match[5], 64)
	if err != nil {
		return nil, false
	}
	compiled, err := compileXPath(match[2])
	if err != nil {
		return nil, false
	}
	return &LogAggregate{
		identity:  identity,
		function:  match[1],
		xpath:     match[2],
		compiled:  compiled,
		attribute: match[3],
		operator:  Operator(match[4]),
		expected:  expected,
	}, true
}

func (e *LogAggregate) Update(message *MessageInfo) {
	for _, node := range message.Select(e.compiled) {
		text, found := attribute(node, e.attribute)
		if !found {
			continue
		}
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			continue
		}
		e.add(value)
	}
}

func (e *LogAggregate) add(value float64) {
	if e.n == 0 {
		e.min, e.max = value, value
	} else {
		if value < e.min {
			e.min = value
		}
		if value > e.max {
			e.max = value
		}
	}
	e.sum += value
	e.n++
}

// Value returns the aggregate, false when nothing was aggregated
func (e *LogAggregate) Value() (float64, bool) {
	if e.n == 0 {
		return 0, false
	}
	switch e.function {
	case "sum":
		return e.sum, true
	case "min":
		return e.min, true
	case "max":
		return e.max, true
	case "avg":
		return e.sum / float64(e.n), true
	case "lean":
		if e.min >= e.max {
			return 0, true
		}
		mean := e.sum / float64(e.n)
		return ((mean-e.min)/(e.max-e.min) - 0.5) * 2, true
	default:
		return 0, false
	}
}

func (e *LogAggregate) Check(logger logging.Logger) bool {
	value, ok := e.Value()
	if !ok || e.operator.Compare(value, e.expected) {
		return true
	}
	logger.Errorf("%s %f of '%s' from '%s' is expected to be %s %f",
		e.function, value, e.xpath, e.identity, e.operator, e.expected)
	return false
}

// ParseLogExpectation accepts the count(...) and aggregate forms
func ParseLogExpectation(identity, definition string) (LogExpectation, error) {
	if count, ok := ParseLogCount(identity, definition); ok {
		return count, nil
	}
	if aggregate, ok := ParseLogAggregate(identity, definition); ok {
		return aggregate, nil
	}
	return nil, errors.NewConfigurationError("invalid XPath expectation", nil).
		WithContext("identity", identity).
		WithContext("definition", definition)
}
