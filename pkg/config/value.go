package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is one node of a configuration document. Map keys keep document order.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	// Text holds a string value, or the literal of a number
	Text   string
	List   []Value
	keys   []string
	fields map[string]Value
}

func Null() Value { return Value{Kind: KindNull} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func String(s string) Value { return Value{Kind: KindString, Text: s} }

func Number(f float64) Value {
	return Value{Kind: KindNumber, Number: f, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func numberLiteral(text string) (Value, error) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindNumber, Number: f, Text: text}, nil
}

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

func NewMap() Value {
	return Value{Kind: KindMap, fields: make(map[string]Value)}
}

// Keys returns map keys in document order
func (v Value) Keys() []string {
	return v.keys
}

func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	field, found := v.fields[key]
	return field, found
}

// Set stores a field, appending new keys at the end. v must be a map.
func (v *Value) Set(key string, field Value) {
	if v.fields == nil {
		v.Kind = KindMap
		v.fields = make(map[string]Value)
	}
	if _, found := v.fields[key]; !found {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = field
}

// Prepend stores a field in front of the existing keys unless it is already present
func (v *Value) Prepend(key string, field Value) {
	if _, found := v.Get(key); found {
		return
	}
	v.Set(key, field)
	v.keys = append([]string{key}, v.keys[:len(v.keys)-1]...)
}

func (v *Value) Delete(key string) {
	if _, found := v.Get(key); !found {
		return
	}
	delete(v.fields, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i:i], v.keys[i+1:]...)
			break
		}
	}
}

// Clone deep-copies v
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = item.Clone()
		}
		return List(items...)
	case KindMap:
		result := NewMap()
		for _, key := range v.keys {
			result.Set(key, v.fields[key].Clone())
		}
		return result
	default:
		return v
	}
}

// Scalar renders a bool, number or string as command-line text
func (v Value) Scalar() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Text, true
	case KindNumber:
		return v.Text, true
	case KindBool:
		return strconv.FormatBool(v.Bool), true
	default:
		return "", false
	}
}

// Int returns an integral number, accepting 5 and 5.0 alike
func (v Value) Int() (int, bool) {
	if v.Kind != KindNumber || v.Number != math.Trunc(v.Number) {
		return 0, false
	}
	return int(v.Number), true
}

// Strings flattens a scalar or nested list of scalars into strings
func (v Value) Strings() ([]string, error) {
	switch v.Kind {
	case KindList:
		result := make([]string, 0, len(v.List))
		for _, item := range v.List {
			items, err := item.Strings()
			if err != nil {
				return nil, err
			}
			result = append(result, items...)
		}
		return result, nil
	case KindNull:
		return nil, nil
	case KindMap:
		return nil, fmt.Errorf("expected a value or list, got a map")
	default:
		text, _ := v.Scalar()
		return []string{text}, nil
	}
}

// Merge deep-merges src into dst and returns the result. Maps merge
// recursively, lists are concatenated and anything else is replaced.
func Merge(dst, src Value) Value {
	if dst.Kind != KindMap || src.Kind != KindMap {
		return src.Clone()
	}
	result := dst.Clone()
	for _, key := range src.keys {
		incoming := src.fields[key]
		existing, found := result.Get(key)
		switch {
		case incoming.Kind == KindMap && found && existing.Kind == KindMap:
			result.Set(key, Merge(existing, incoming))
		case incoming.Kind == KindList && found && existing.Kind == KindList:
			items := append(append([]Value{}, existing.List...), incoming.Clone().List...)
			result.Set(key, List(items...))
		default:
			result.Set(key, incoming.Clone())
		}
	}
	return result
}

// ===== DECODING =====

// DecodeJSON parses JSON, tolerating comments and trailing commas, keeping key order
func DecodeJSON(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()

	value, err := decodeJSONValue(decoder)
	if err != nil {
		return Value{}, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("unexpected data after document")
	}
	return value, nil
}

func decodeJSONValue(decoder *json.Decoder) (Value, error) {
	token, err := decoder.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := token.(type) {
	case json.Delim:
		switch t {
		case '{':
			result := NewMap()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return Value{}, fmt.Errorf("expected object key, got %v", keyToken)
				}
				field, err := decodeJSONValue(decoder)
				if err != nil {
					return Value{}, err
				}
				result.Set(key, field)
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return result, nil
		case '[':
			items := make([]Value, 0)
			for decoder.More() {
				item, err := decodeJSONValue(decoder)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := decoder.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		default:
			return Value{}, fmt.Errorf("unexpected delimiter %v", t)
		}
	case json.Number:
		return numberLiteral(t.String())
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("unexpected token %v", token)
	}
}

// DecodeYAML parses a YAML document, keeping key order
func DecodeYAML(data []byte) (Value, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return Value{}, err
	}
	if document.Kind == 0 {
		return NewMap(), nil
	}
	return fromYAMLNode(&document)
}

func fromYAMLNode(node *yaml.Node) (Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}
		return fromYAMLNode(node.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(node.Alias)
	case yaml.MappingNode:
		result := NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			field, err := fromYAMLNode(node.Content[i+1])
			if err != nil {
				return Value{}, err
			}
			result.Set(node.Content[i].Value, field)
		}
		return result, nil
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := fromYAMLNode(child)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			return Null(), nil
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return Value{}, err
			}
			return Bool(b), nil
		case "!!int", "!!float":
			var f float64
			if err := node.Decode(&f); err != nil {
				return Value{}, err
			}
			value := Number(f)
			if node.ShortTag() == "!!int" {
				value.Text = strconv.FormatInt(int64(f), 10)
			}
			return value, nil
		default:
			return String(node.Value), nil
		}
	default:
		return Value{}, fmt.Errorf("unsupported YAML node at line %d", node.Line)
	}
}

// ===== ENCODING =====

// Interface converts v into plain maps, slices and scalars for encoding/json
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return json.Number(v.Text)
	case KindString:
		return v.Text
	case KindList:
		items := make([]interface{}, len(v.List))
		for i, item := range v.List {
			items[i] = item.Interface()
		}
		return items
	case KindMap:
		fields := make(map[string]interface{}, len(v.keys))
		for _, key := range v.keys {
			fields[key] = v.fields[key].Interface()
		}
		return fields
	default:
		return nil
	}
}

// WriteJSON prints v with sorted keys and two-space indentation
func (v Value) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(v.Interface(), "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to encode configuration", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.NewIOError("failed to write configuration", err)
	}
	return nil
}
