package process

import (
	"sort"
	"time"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
)

const (
	// MinRunningDwell is how long a child must live before it counts as running
	MinRunningDwell = 500 * time.Millisecond

	// AbandonedExitCode is recorded for an instance dropped without an exit
	AbandonedExitCode = -1
)

// Exit is an exit observed by the reaper
type Exit struct {
	Pid  int
	Code int
}

// State identifies a logical state reported by a process
type State struct {
	Source string
	Tag    string
}

type StateInfo struct {
	Begin  time.Time
	End    time.Time
	Active bool
}

// Instance owns exactly one child process. It is not safe for concurrent
// use; the scheduler goroutine owns it.
type Instance struct {
	child     Child
	argv      []string
	identity  string
	number    int
	startTime time.Time
	clock     clock.Clock

	exitCode  int
	finished  bool
	exitTaken bool

	activeStates  map[State]bool
	currentStates map[State]StateInfo
	progress      *logchannel.Progress
}

// Start spawns argv. The session identity and process number are read
// from the --session-identity and --log-identity arguments.
func Start(spawner Spawner, argv []string, clk clock.Clock) (*Instance, error) {
	if err := ValidateArgv(argv); err != nil {
		return nil, err
	}
	identity, number, err := ParseIdentities(argv)
	if err != nil {
		return nil, err
	}

	child, err := spawner.Spawn(argv)
	if err != nil {
		return nil, err
	}

	return &Instance{
		child:         child,
		argv:          append([]string(nil), argv...),
		identity:      identity,
		number:        number,
		startTime:     clk.Now(),
		clock:         clk,
		activeStates:  make(map[State]bool),
		currentStates: make(map[State]StateInfo),
	}, nil
}

// Identity is the session identity, empty when the command has none
func (p *Instance) Identity() string     { return p.identity }
func (p *Instance) Number() int          { return p.number }
func (p *Instance) Pid() int             { return p.child.Pid() }
func (p *Instance) Argv() []string       { return p.argv }
func (p *Instance) StartTime() time.Time { return p.startTime }

// ExitCode returns the recorded exit code once the process has finished
func (p *Instance) ExitCode() (int, bool) {
	return p.exitCode, p.finished
}

// Terminate is a no-op once the process has finished
func (p *Instance) Terminate() error {
	if p.finished {
		return nil
	}
	return p.child.Terminate()
}

// Kill is a no-op once the process has finished
func (p *Instance) Kill() error {
	if p.finished {
		return nil
	}
	return p.child.Kill()
}

// IsFinished polls the child when no exit was recorded yet
func (p *Instance) IsFinished() bool {
	if !p.finished {
		if code, done := p.child.Poll(); done {
			p.recordExit(code)
		}
	}
	return p.finished
}

// IsRunning is true for an unfinished process past the minimum dwell time
func (p *Instance) IsRunning() bool {
	if p.IsFinished() {
		return false
	}
	return p.clock.Now().Sub(p.startTime) > MinRunningDwell
}

// IsActive is true for a running process that has no active-state filter
// or is in at least one of its active states
func (p *Instance) IsActive() bool {
	if !p.IsRunning() {
		return false
	}
	if len(p.activeStates) == 0 {
		return true
	}
	for state := range p.currentStates {
		if p.activeStates[state] {
			return true
		}
	}
	return false
}

// HandleExit records code if pid is this process. Only the first
// observation counts.
func (p *Instance) HandleExit(pid, code int) bool {
	if p.child.Pid() != pid {
		return false
	}
	if !p.finished {
		p.recordExit(code)
	}
	return true
}

// Abandon records a synthetic exit for a process dropped without one
func (p *Instance) Abandon() {
	if !p.finished {
		p.recordExit(AbandonedExitCode)
	}
}

func (p *Instance) recordExit(code int) {
	p.exitCode = code
	p.finished = true
}

// TakeExit returns the exit code exactly once after the process finished
func (p *Instance) TakeExit() (int, bool) {
	if !p.finished || p.exitTaken {
		return 0, false
	}
	p.exitTaken = true
	return p.exitCode, true
}

func (p *Instance) AddActiveState(state State) {
	p.activeStates[state] = true
}

// BeginState opens state at the given time
func (p *Instance) BeginState(state State, at time.Time) StateInfo {
	info := StateInfo{Begin: at, Active: p.activeStates[state]}
	p.currentStates[state] = info
	return info
}

// EndState closes state; false when it was not open
func (p *Instance) EndState(state State, at time.Time) (StateInfo, bool) {
	info, found := p.currentStates[state]
	if !found {
		return StateInfo{}, false
	}
	delete(p.currentStates, state)
	info.End = at
	return info, true
}

// States returns the open states ordered by begin time
func (p *Instance) States() []State {
	states := make([]State, 0, len(p.currentStates))
	for state := range p.currentStates {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		a, b := p.currentStates[states[i]], p.currentStates[states[j]]
		if !a.Begin.Equal(b.Begin) {
			return a.Begin.Before(b.Begin)
		}
		if states[i].Source != states[j].Source {
			return states[i].Source < states[j].Source
		}
		return states[i].Tag < states[j].Tag
	})
	return states
}

func (p *Instance) UpdateProgress(progress logchannel.Progress) {
	p.progress = &progress
}

// Progress returns the latest reported progress
func (p *Instance) Progress() (logchannel.Progress, bool) {
	if p.progress == nil {
		return logchannel.Progress{}, false
	}
	return *p.progress, true
}
