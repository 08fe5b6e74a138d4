package logchannel

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// Decoder turns the lines of one connection into events. A stream is a
// single XML document written one fragment per line, so element state
// carries over from line to line.
type Decoder struct {
	message  *Message
	element  string
	argument int
	clean    bool
}

func NewDecoder() *Decoder {
	return &Decoder{argument: -1}
}

// Clean reports whether the closing </log> was seen
func (d *Decoder) Clean() bool {
	return d.clean
}

// Feed decodes one line. A line that is not well-formed is dropped as a
// whole and leaves the decoder unchanged.
func (d *Decoder) Feed(line string) ([]Event, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	tokens, err := tokenize(line)
	if err != nil {
		return nil, errors.NewLogChannelError("malformed log line", err).WithContext("line", line)
	}

	var events []Event
	for _, token := range tokens {
		switch t := token.(type) {
		case xml.StartElement:
			if event := d.start(t); event != nil {
				events = append(events, event)
			}
		case xml.EndElement:
			if event := d.end(t); event != nil {
				events = append(events, event)
			}
		case xml.CharData:
			d.text(string(t))
		}
	}
	return events, nil
}

func tokenize(line string) ([]xml.Token, error) {
	decoder := xml.NewDecoder(strings.NewReader(line))
	var tokens []xml.Token
	for {
		token, err := decoder.RawToken()
		if err == io.EOF {
			return tokens, nil
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, xml.CopyToken(token))
	}
}

func attr(element xml.StartElement, name string) (string, bool) {
	for _, a := range element.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrValue(element xml.StartElement, name string) string {
	value, _ := attr(element, name)
	return value
}

func (d *Decoder) start(element xml.StartElement) Event {
	d.element = element.Name.Local

	switch element.Name.Local {
	case "log":
		session, hasSession := attr(element, "session")
		return LogBegin{
			Session:    session,
			HasSession: hasSession,
			Identity:   attrValue(element, "identity"),
			StartTime:  attrValue(element, "start_tse_us"),
		}
	case "m":
		d.message = &Message{
			Level:     attrValue(element, "lvl"),
			Source:    attrValue(element, "src"),
			Tag:       attrValue(element, "tag"),
			Instance:  attrValue(element, "iid"),
			Timestamp: attrValue(element, "ts"),
		}
		d.argument = -1
	case "a":
		if d.message == nil {
			return nil
		}
		value := ArgumentValue{
			Type: attrValue(element, "t"),
			Min:  attrValue(element, "min"),
			Max:  attrValue(element, "max"),
		}
		if blob, found := attr(element, "blob"); found && blob != "false" && blob != "0" {
			value.Blob = true
		}
		d.argument = d.addArgumentValue(attrValue(element, "n"), value)
	case "hb":
		return Heartbeat{}
	case "ds":
		return DeclareState{
			Source:   attrValue(element, "src"),
			Tag:      attrValue(element, "tag"),
			BeginTag: attrValue(element, "bgn"),
			EndTag:   attrValue(element, "end"),
		}
	case "as":
		return ActiveState{
			Source: attrValue(element, "src"),
			Tag:    attrValue(element, "tag"),
		}
	case "d":
		return Description{
			Source:      attrValue(element, "src"),
			Instance:    attrValue(element, "iid"),
			DisplayName: attrValue(element, "dn"),
			Description: attrValue(element, "desc"),
		}
	}
	return nil
}

func (d *Decoder) addArgumentValue(name string, value ArgumentValue) int {
	for i := range d.message.Args {
		if d.message.Args[i].Name == name {
			d.message.Args[i].Values = append(d.message.Args[i].Values, value)
			return i
		}
	}
	d.message.Args = append(d.message.Args, Argument{Name: name, Values: []ArgumentValue{value}})
	return len(d.message.Args) - 1
}

func (d *Decoder) end(element xml.EndElement) Event {
	d.element = ""

	switch element.Name.Local {
	case "log":
		d.clean = true
		return LogEnd{}
	case "m":
		if d.message == nil {
			return nil
		}
		message := *d.message
		d.message = nil
		d.argument = -1
		return message
	}
	return nil
}

func (d *Decoder) text(content string) {
	if d.message == nil {
		return
	}
	switch d.element {
	case "f":
		d.message.Format += content
	case "a":
		if d.argument < 0 {
			return
		}
		values := d.message.Args[d.argument].Values
		values[len(values)-1].Value += content
	}
}
