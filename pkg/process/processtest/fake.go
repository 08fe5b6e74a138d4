// Package processtest provides an in-memory process.Spawner for tests.
package processtest

import (
	"sync"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/process"
)

// FakeChild is a child whose exit is controlled by the test
type FakeChild struct {
	mutex      sync.Mutex
	pid        int
	argv       []string
	terminated int
	killed     int
	code       int
	finished   bool
	// Reaped children report their exit only through the reaper path
	reaped bool
}

func (c *FakeChild) Pid() int { return c.pid }

func (c *FakeChild) Argv() []string { return c.argv }

func (c *FakeChild) Terminate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.terminated++
	return nil
}

func (c *FakeChild) Kill() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.killed++
	return nil
}

func (c *FakeChild) Poll() (int, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.reaped {
		return 0, false
	}
	return c.code, c.finished
}

// Exit makes the child finish with code, observable by Poll
func (c *FakeChild) Exit(code int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.code = code
	c.finished = true
}

// Reap makes the child finish without Poll seeing it, as when a reaper
// collected it; the returned Exit must be delivered by the test
func (c *FakeChild) Reap(code int) process.Exit {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.code = code
	c.finished = true
	c.reaped = true
	return process.Exit{Pid: c.pid, Code: code}
}

func (c *FakeChild) Terminated() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.terminated
}

func (c *FakeChild) Killed() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.killed
}

// FakeSpawner hands out FakeChild values with ascending pids
type FakeSpawner struct {
	mutex    sync.Mutex
	nextPid  int
	children []*FakeChild
	// Fail, when set, rejects command lines it returns true for
	Fail func(argv []string) bool
}

func NewFakeSpawner() *FakeSpawner {
	return &FakeSpawner{nextPid: 1000}
}

func (s *FakeSpawner) Spawn(argv []string) (process.Child, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.Fail != nil && s.Fail(argv) {
		return nil, errors.NewLaunchError("spawn rejected", nil).WithContext("executable_path", argv[0])
	}

	s.nextPid++
	child := &FakeChild{pid: s.nextPid, argv: append([]string(nil), argv...)}
	s.children = append(s.children, child)
	return child, nil
}

// Children returns every child spawned so far, in spawn order
func (s *FakeSpawner) Children() []*FakeChild {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*FakeChild(nil), s.children...)
}

// Running returns the children that have not exited
func (s *FakeSpawner) Running() []*FakeChild {
	var result []*FakeChild
	for _, child := range s.Children() {
		child.mutex.Lock()
		finished := child.finished
		child.mutex.Unlock()
		if !finished {
			result = append(result, child)
		}
	}
	return result
}
