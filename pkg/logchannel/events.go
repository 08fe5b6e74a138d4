package logchannel

import "strconv"

// Event is one decoded element of a child's log stream
type Event interface {
	isEvent()
}

// LogBegin opens a stream. Only streams carrying a session are tracked.
type LogBegin struct {
	Session    string
	HasSession bool
	// Process number the child was launched with (--log-identity)
	Identity  string
	StartTime string
}

// LogEnd marks a clean shutdown of the stream
type LogEnd struct{}

// Heartbeat refreshes the liveness of a stream
type Heartbeat struct{}

// Message is one log entry
type Message struct {
	Level     string
	Source    string
	Tag       string
	Instance  string
	Timestamp string
	Format    string
	Args      []Argument
}

// Argument groups all values logged under one argument name
type Argument struct {
	Name   string
	Values []ArgumentValue
}

type ArgumentValue struct {
	Value string
	Type  string
	// Min and Max are empty unless the value is bounded
	Min  string
	Max  string
	Blob bool
}

// DeclareState registers the message tags that open and close a state
type DeclareState struct {
	Source   string
	Tag      string
	BeginTag string
	EndTag   string
}

// ActiveState marks a state in which the process counts as active
type ActiveState struct {
	Source string
	Tag    string
}

// Description names one logger instance of the process
type Description struct {
	Source      string
	Instance    string
	DisplayName string
	Description string
}

func (LogBegin) isEvent()     {}
func (LogEnd) isEvent()       {}
func (Heartbeat) isEvent()    {}
func (Message) isEvent()      {}
func (DeclareState) isEvent() {}
func (ActiveState) isEvent()  {}
func (Description) isEvent()  {}

// ProgressType is the argument type carrying the main progress of a process
const ProgressType = "MainPrgrss"

// Progress is a bounded progress value
type Progress struct {
	Value float64
	Min   float64
	Max   float64
}

// Percent returns the completed share in the 0..100 range
func (p Progress) Percent() float64 {
	if p.Max <= p.Min {
		return 0
	}
	return 100 * (p.Value - p.Min) / (p.Max - p.Min)
}

// Progress returns the main progress values carried by the message
func (m Message) Progress() []Progress {
	var result []Progress
	for _, arg := range m.Args {
		for _, value := range arg.Values {
			if value.Type != ProgressType {
				continue
			}
			current, err := strconv.ParseFloat(value.Value, 64)
			if err != nil {
				continue
			}
			min, err := strconv.ParseFloat(value.Min, 64)
			if err != nil {
				continue
			}
			max, err := strconv.ParseFloat(value.Max, 64)
			if err != nil {
				continue
			}
			result = append(result, Progress{Value: current, Min: min, Max: max})
		}
	}
	return result
}
