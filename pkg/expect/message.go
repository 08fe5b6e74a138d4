package expect

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
)

// OpenState is a state interval still open when a message arrives
type OpenState struct {
	Source   string
	Tag      string
	Instance string
	Begin    time.Time
}

// MessageInfo is a log message and the open states of its stream, rendered
// as an XML document for XPath queries:
//
//	<root>
//	  <log level source tag instance timestamp format>
//	    <args><NAME><values value type min max blob/>...</NAME></args>
//	  </log>
//	  <state><SOURCE><TAG instance begin/>...</SOURCE></state>
//	</root>
//
// Expressions are evaluated relative to root, e.g. log[@tag='done'].
type MessageInfo struct {
	root *xmlquery.Node
}

func NewMessageInfo(message logchannel.Message, states []OpenState) (*MessageInfo, error) {
	var b strings.Builder
	b.WriteString("<root><log")
	writeAttr(&b, "level", message.Level)
	writeAttr(&b, "source", message.Source)
	writeAttr(&b, "tag", message.Tag)
	writeAttr(&b, "instance", message.Instance)
	writeAttr(&b, "timestamp", message.Timestamp)
	writeAttr(&b, "format", message.Format)
	b.WriteString("><args>")
	for _, arg := range message.Args {
		name := elementName(arg.Name)
		fmt.Fprintf(&b, "<%s>", name)
		for _, value := range arg.Values {
			b.WriteString("<values")
			writeAttr(&b, "value", value.Value)
			writeAttr(&b, "type", value.Type)
			writeAttr(&b, "min", value.Min)
			writeAttr(&b, "max", value.Max)
			if value.Blob {
				writeAttr(&b, "blob", "true")
			}
			b.WriteString("/>")
		}
		fmt.Fprintf(&b, "</%s>", name)
	}
	b.WriteString("</args></log><state>")

	// Group states by source, keeping first-seen order
	var sources []string
	bySource := make(map[string][]OpenState)
	for _, state := range states {
		if _, found := bySource[state.Source]; !found {
			sources = append(sources, state.Source)
		}
		bySource[state.Source] = append(bySource[state.Source], state)
	}
	for _, source := range sources {
		name := elementName(source)
		fmt.Fprintf(&b, "<%s>", name)
		for _, state := range bySource[source] {
			fmt.Fprintf(&b, "<%s", elementName(state.Tag))
			writeAttr(&b, "instance", state.Instance)
			writeAttr(&b, "begin", fmt.Sprintf("%.6f", float64(state.Begin.UnixNano())/1e9))
			b.WriteString("/>")
		}
		fmt.Fprintf(&b, "</%s>", name)
	}
	b.WriteString("</state></root>")

	document, err := xmlquery.Parse(strings.NewReader(b.String()))
	if err != nil {
		return nil, errors.NewInternalError("failed to build message document", err)
	}
	root := xmlquery.FindOne(document, "/root")
	if root == nil {
		return nil, errors.NewInternalError("message document has no root", nil)
	}
	return &MessageInfo{root: root}, nil
}

// Find returns the nodes matching expr relative to the root element
func (m *MessageInfo) Find(expr string) ([]*xmlquery.Node, error) {
	compiled, err := compileXPath(expr)
	if err != nil {
		return nil, err
	}
	return m.Select(compiled), nil
}

// Select evaluates a compiled expression relative to the root element
func (m *MessageInfo) Select(expr *xpath.Expr) []*xmlquery.Node {
	return xmlquery.QuerySelectorAll(m.root, expr)
}

func compileXPath(expr string) (*xpath.Expr, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid XPath expression", err).WithContext("xpath", expr)
	}
	return compiled, nil
}

// Has reports whether expr matches anything
func (m *MessageInfo) Has(expr string) bool {
	nodes, err := m.Find(expr)
	return err == nil && len(nodes) > 0
}

// String returns the rendered document
func (m *MessageInfo) String() string {
	return m.root.OutputXML(true)
}

func writeAttr(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	xml.EscapeText(b, []byte(value))
	b.WriteByte('"')
}

// elementName maps an arbitrary identifier onto a valid XML element name
func elementName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
			b.WriteRune(r)
		case i == 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// attribute returns the named attribute of a node
func attribute(node *xmlquery.Node, name string) (string, bool) {
	for _, attr := range node.Attr {
		if attr.Name.Local == name {
			return attr.Value, true
		}
	}
	return "", false
}
