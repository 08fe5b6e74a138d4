package expect

import (
	"sort"
	"time"

	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

// Set holds every expectation of a run, grouped by identity
type Set struct {
	cleanShutdown map[string]*CleanShutdown
	exitCode      map[string]*ExitCode
	runTime       map[string][]*RunTime
	log           map[string][]LogExpectation
}

func NewSet() *Set {
	return &Set{
		cleanShutdown: make(map[string]*CleanShutdown),
		exitCode:      make(map[string]*ExitCode),
		runTime:       make(map[string][]*RunTime),
		log:           make(map[string][]LogExpectation),
	}
}

// Build creates the expectations of a configuration. Definitions that do
// not parse are logged and ignored.
func Build(cfg config.ExpectConfig, logger logging.Logger) *Set {
	set := NewSet()

	for _, identity := range cfg.CleanShutdown {
		set.cleanShutdown[identity] = NewCleanShutdown(identity)
	}
	for identity, code := range cfg.ExitCode {
		set.exitCode[identity] = NewExitCode(identity, code)
	}
	for identity, definitions := range cfg.RunTime {
		for _, definition := range definitions {
			expectation, err := ParseRunTime(identity, definition)
			if err != nil {
				logger.Warnf("Ignoring expectation, error: %v", err)
				continue
			}
			set.runTime[identity] = append(set.runTime[identity], expectation)
		}
	}
	for identity, definitions := range cfg.XPath {
		for _, definition := range definitions {
			expectation, err := ParseLogExpectation(identity, definition)
			if err != nil {
				logger.Warnf("Ignoring expectation, error: %v", err)
				continue
			}
			set.log[identity] = append(set.log[identity], expectation)
		}
	}

	return set
}

func (s *Set) UpdateCleanShutdown(identity string, clean bool) {
	if expectation, found := s.cleanShutdown[identity]; found {
		expectation.Update(clean)
	}
}

func (s *Set) UpdateExitCode(identity string, code int) {
	if expectation, found := s.exitCode[identity]; found {
		expectation.Update(code)
	}
}

func (s *Set) UpdateRunTime(identity string, runTime time.Duration) {
	for _, expectation := range s.runTime[identity] {
		expectation.Update(runTime)
	}
}

// HasLog reports whether messages of identity need a MessageInfo
func (s *Set) HasLog(identity string) bool {
	return len(s.log[identity]) > 0
}

func (s *Set) UpdateLog(identity string, message *MessageInfo) {
	for _, expectation := range s.log[identity] {
		expectation.Update(message)
	}
}

// All returns every expectation in a stable order
func (s *Set) All() []Expectation {
	var result []Expectation
	for _, identity := range sortedKeys(s.cleanShutdown) {
		result = append(result, s.cleanShutdown[identity])
	}
	for _, identity := range sortedKeys(s.exitCode) {
		result = append(result, s.exitCode[identity])
	}
	for _, identity := range sortedKeys(s.runTime) {
		for _, expectation := range s.runTime[identity] {
			result = append(result, expectation)
		}
	}
	for _, identity := range sortedKeys(s.log) {
		for _, expectation := range s.log[identity] {
			result = append(result, expectation)
		}
	}
	return result
}

// Check evaluates every expectation, reporting all failures
func (s *Set) Check(logger logging.Logger) bool {
	success := true
	for _, expectation := range s.All() {
		success = expectation.Check(logger) && success
	}
	return success
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
