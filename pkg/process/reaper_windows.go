//go:build windows

package process

import "github.com/core-tools/hsu-procman/pkg/logging"

// Reaper has nothing to do on Windows, children are waited for individually
type Reaper struct {
	exits chan Exit
}

func StartReaper(logger logging.Logger) *Reaper {
	return &Reaper{exits: make(chan Exit)}
}

func (r *Reaper) Exits() <-chan Exit {
	return r.exits
}

func (r *Reaper) Stop() {}
