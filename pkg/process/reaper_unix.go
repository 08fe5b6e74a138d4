//go:build !windows

package process

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-procman/pkg/logging"
)

// Reaper turns SIGCHLD into Exit values. It is the only place where children
// are reaped while it runs; the consumer matches pids against its instances.
type Reaper struct {
	logger  logging.Logger
	signals chan os.Signal
	exits   chan Exit
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func StartReaper(logger logging.Logger) *Reaper {
	r := &Reaper{
		logger:  logger,
		signals: make(chan os.Signal, 1),
		exits:   make(chan Exit, 64),
		done:    make(chan struct{}),
	}
	signal.Notify(r.signals, unix.SIGCHLD)

	r.wg.Add(1)
	go r.run()

	return r
}

func (r *Reaper) Exits() <-chan Exit {
	return r.exits
}

func (r *Reaper) Stop() {
	r.once.Do(func() {
		signal.Stop(r.signals)
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Reaper) run() {
	defer r.wg.Done()

	// Children may have exited before the handler was installed
	r.reap()

	for {
		select {
		case <-r.done:
			return
		case <-r.signals:
			r.reap()
		}
	}
}

// reap collects every finished child; ECHILD ends the round quietly
func (r *Reaper) reap() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		exit := Exit{Pid: pid, Code: exitCode(status)}
		r.logger.Debugf("Child reaped, pid: %d, exit code: %d", exit.Pid, exit.Code)

		select {
		case r.exits <- exit:
		case <-r.done:
			return
		}
	}
}
