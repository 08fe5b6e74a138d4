// Package tracker follows the log streams of supervised processes, feeds
// the expectations and reports lifecycle changes of the composition.
package tracker

import (
	"strconv"
	"time"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/expect"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/pipeline"
	"github.com/core-tools/hsu-procman/pkg/process"
)

type trigger struct {
	source string
	tag    string
}

type openState struct {
	source   string
	tag      string
	instance string
	begin    time.Time
}

// stream is a log connection that announced a session
type stream struct {
	identity string
	number   int
	start    time.Time
	update   time.Time

	beginTriggers map[trigger]string
	endTriggers   map[trigger]string
	states        []openState
	descriptions  map[string]logchannel.Description
}

// Tracker is driven from the goroutine that manages the composition and is
// not safe for concurrent use.
type Tracker struct {
	expectations *expect.Set
	composition  *pipeline.Composition
	clock        clock.Clock
	logger       logging.Logger

	streams        map[int]*stream
	sourceByNumber map[int]int
}

var _ pipeline.Observer = (*Tracker)(nil)

func New(expectations *expect.Set, composition *pipeline.Composition, clk clock.Clock, logger logging.Logger) *Tracker {
	if expectations == nil {
		expectations = expect.NewSet()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		expectations:   expectations,
		composition:    composition,
		clock:          clk,
		logger:         logger,
		streams:        make(map[int]*stream),
		sourceByNumber: make(map[int]int),
	}
}

// HandleEvents applies the events decoded from one log connection
func (t *Tracker) HandleEvents(source int, events []logchannel.Event) {
	for _, event := range events {
		switch e := event.(type) {
		case logchannel.LogBegin:
			t.beginLog(source, e)
		case logchannel.Heartbeat:
			if s, found := t.streams[source]; found {
				s.update = t.clock.Now()
			}
		case logchannel.Message:
			t.addMessage(source, e)
		case logchannel.DeclareState:
			t.declareState(source, e)
		case logchannel.ActiveState:
			if s, found := t.streams[source]; found {
				t.composition.AddActiveState(s.number, process.State{Source: e.Source, Tag: e.Tag})
			}
		case logchannel.Description:
			if s, found := t.streams[source]; found {
				s.descriptions[e.Source] = e
			}
		case logchannel.LogEnd:
			// The clean flag arrives with the disconnect
		}
	}
}

func (t *Tracker) beginLog(source int, e logchannel.LogBegin) {
	if !e.HasSession {
		t.logger.Debugf("Ignoring log stream without session, source: %d", source)
		return
	}
	number, err := strconv.Atoi(e.Identity)
	if err != nil {
		t.logger.Warnf("Ignoring log stream with invalid identity, source: %d, identity: %q", source, e.Identity)
		return
	}

	now := t.clock.Now()
	t.streams[source] = &stream{
		identity:      e.Session,
		number:        number,
		start:         now,
		update:        now,
		beginTriggers: make(map[trigger]string),
		endTriggers:   make(map[trigger]string),
		descriptions:  make(map[string]logchannel.Description),
	}
	t.sourceByNumber[number] = source
	t.logger.Infof("process %d '%s' started", source, e.Session)
}

// FinishLog closes a log connection: open states end, and the clean
// shutdown and run time expectations of its session are updated
func (t *Tracker) FinishLog(source int, clean bool) {
	s, found := t.streams[source]
	if !found {
		return
	}

	remaining := append([]openState(nil), s.states...)
	for _, state := range remaining {
		t.endState(source, s, state.source, state.instance, state.tag)
	}

	t.expectations.UpdateCleanShutdown(s.identity, clean)
	t.expectations.UpdateRunTime(s.identity, t.clock.Now().Sub(s.start))
	t.logger.Infof("process %d '%s' finished", source, s.identity)

	delete(t.streams, source)
}

func (t *Tracker) addMessage(source int, message logchannel.Message) {
	s, found := t.streams[source]
	if !found {
		return
	}
	key := trigger{source: message.Source, tag: message.Tag}

	if tag, found := s.beginTriggers[key]; found {
		t.beginState(s, message.Source, message.Instance, tag)
	}

	s.update = t.clock.Now()
	if t.expectations.HasLog(s.identity) {
		info, err := expect.NewMessageInfo(message, s.openStates())
		if err != nil {
			t.logger.Warnf("Failed to inspect message, source: %d, error: %v", source, err)
		} else {
			t.expectations.UpdateLog(s.identity, info)
		}
	}

	for _, progress := range message.Progress() {
		t.composition.UpdateProgress(s.number, progress)
	}

	if tag, found := s.endTriggers[key]; found {
		t.endState(source, s, message.Source, message.Instance, tag)
	}
}

func (t *Tracker) declareState(source int, e logchannel.DeclareState) {
	s, found := t.streams[source]
	if !found {
		return
	}
	s.beginTriggers[trigger{source: e.Source, tag: e.BeginTag}] = e.Tag
	s.endTriggers[trigger{source: e.Source, tag: e.EndTag}] = e.Tag
}

func (t *Tracker) beginState(s *stream, source, instance, tag string) {
	now := t.clock.Now()
	s.states = append(s.states, openState{source: source, tag: tag, instance: instance, begin: now})
	t.composition.BeginState(s.number, process.State{Source: source, Tag: tag}, now)
}

func (t *Tracker) endState(sourceID int, s *stream, source, instance, tag string) {
	for i, state := range s.states {
		if state.source == source && state.tag == tag && state.instance == instance {
			s.states = append(s.states[:i:i], s.states[i+1:]...)
			t.composition.EndState(s.number, process.State{Source: source, Tag: tag}, t.clock.Now())
			return
		}
	}
	t.logger.Warnf("%d ending unregistered state '%s'", sourceID, tag)
}

func (s *stream) openStates() []expect.OpenState {
	result := make([]expect.OpenState, len(s.states))
	for i, state := range s.states {
		result[i] = expect.OpenState{
			Source:   state.source,
			Tag:      state.tag,
			Instance: state.instance,
			Begin:    state.begin,
		}
	}
	return result
}

// sourceName prefers the display name a logger described itself with
func (s *stream) sourceName(source string) string {
	if description, found := s.descriptions[source]; found && description.DisplayName != "" {
		return description.DisplayName
	}
	return source
}

// Result checks every expectation: 0 when all hold, 1 otherwise
func (t *Tracker) Result() int {
	if t.expectations.Check(t.logger) {
		return 0
	}
	return 1
}

// ===== OBSERVER =====

func (t *Tracker) describe(proc *process.Instance, source string) (int, string) {
	sourceID := t.sourceByNumber[proc.Number()]
	if s, found := t.streams[sourceID]; found {
		return sourceID, s.sourceName(source)
	}
	return sourceID, source
}

func (t *Tracker) OnProcessExit(p *pipeline.Pipeline, instance int, proc *process.Instance, code int) {
	identity := proc.Identity()
	if identity == "" {
		identity = p.Identity()
	}
	t.expectations.UpdateExitCode(identity, code)
}

func (t *Tracker) OnInstanceFinished(p *pipeline.Pipeline, instance int) {
	t.logger.Infof("instance %d of pipeline '%s' finished", instance, p.Identity())
}

func (t *Tracker) OnPipelineFinished(p *pipeline.Pipeline) {
	t.logger.Infof("pipeline '%s' finished", p.Identity())
}

func (t *Tracker) OnStateBegin(p *pipeline.Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo) {
	sourceID, source := t.describe(proc, state.Source)
	active := ""
	if info.Active {
		active = "active "
	}
	t.logger.Infof("process %d '%s' entered %s/%s %sstate", sourceID, p.Identity(), source, state.Tag, active)
}

func (t *Tracker) OnStateEnd(p *pipeline.Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo) {
	sourceID, source := t.describe(proc, state.Source)
	t.logger.Infof("process %d '%s' left %s/%s state", sourceID, p.Identity(), source, state.Tag)
}

func (t *Tracker) OnProgress(p *pipeline.Pipeline, instance int, proc *process.Instance, progress logchannel.Progress) {
	sourceID, _ := t.describe(proc, "")
	t.logger.Debugf("process %d '%s' %.1f%% done", sourceID, p.Identity(), progress.Percent())
}
