package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_KeepsKeyOrder(t *testing.T) {
	value, err := DecodeJSON([]byte(`{"z": 1, "a": [true, null, "s"], "m": {"y": 2.5, "b": -3}}`))
	require.NoError(t, err)

	assert.Equal(t, KindMap, value.Kind)
	assert.Equal(t, []string{"z", "a", "m"}, value.Keys())

	a, _ := value.Get("a")
	require.Len(t, a.List, 3)
	assert.Equal(t, KindBool, a.List[0].Kind)
	assert.Equal(t, KindNull, a.List[1].Kind)
	assert.Equal(t, "s", a.List[2].Text)

	m, _ := value.Get("m")
	assert.Equal(t, []string{"y", "b"}, m.Keys())
	b, _ := m.Get("b")
	n, ok := b.Int()
	assert.True(t, ok)
	assert.Equal(t, -3, n)
}

func TestDecodeJSON_Errors(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"a": 1} {"b": 2}`))
	assert.Error(t, err)

	_, err = DecodeJSON([]byte(`{"a": `))
	assert.Error(t, err)
}

func TestDecodeYAML_Scalars(t *testing.T) {
	value, err := DecodeYAML([]byte("n: 7\nf: 1.5\nb: yes\ns: text\nq: \"7\"\nnothing: ~\n"))
	require.NoError(t, err)

	n, _ := value.Get("n")
	assert.Equal(t, KindNumber, n.Kind)
	assert.Equal(t, "7", n.Text)
	f, _ := value.Get("f")
	assert.Equal(t, 1.5, f.Number)
	s, _ := value.Get("s")
	assert.Equal(t, KindString, s.Kind)
	q, _ := value.Get("q")
	assert.Equal(t, KindString, q.Kind)
	nothing, _ := value.Get("nothing")
	assert.Equal(t, KindNull, nothing.Kind)

	empty, err := DecodeYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, KindMap, empty.Kind)
}

func TestValue_Strings(t *testing.T) {
	value, err := DecodeJSON([]byte(`["a", 1, [true, ["b"]]]`))
	require.NoError(t, err)

	strings, err := value.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "1", "true", "b"}, strings)

	_, err = NewMap().Strings()
	assert.Error(t, err)
}

func TestValue_PrependAndDelete(t *testing.T) {
	value := NewMap()
	value.Set("b", String("2"))
	value.Set("c", String("3"))
	value.Prepend("a", String("1"))
	value.Prepend("b", String("ignored"))
	assert.Equal(t, []string{"a", "b", "c"}, value.Keys())
	b, _ := value.Get("b")
	assert.Equal(t, "2", b.Text)

	value.Delete("b")
	assert.Equal(t, []string{"a", "c"}, value.Keys())
	_, found := value.Get("b")
	assert.False(t, found)
}

func TestValue_CloneIsDeep(t *testing.T) {
	original := NewMap()
	inner := NewMap()
	inner.Set("x", String("1"))
	original.Set("inner", inner)

	clone := original.Clone()
	cloneInner, _ := clone.Get("inner")
	cloneInner.Set("y", String("2"))
	clone.Set("inner", cloneInner)

	originalInner, _ := original.Get("inner")
	assert.Equal(t, []string{"x"}, originalInner.Keys())
}

func TestMerge(t *testing.T) {
	dst, err := DecodeJSON([]byte(`{"list": [1], "map": {"a": 1, "b": 1}, "scalar": "old"}`))
	require.NoError(t, err)
	src, err := DecodeJSON([]byte(`{"list": [2], "map": {"b": 2, "c": 2}, "scalar": "new", "extra": true}`))
	require.NoError(t, err)

	merged := Merge(dst, src)

	var buffer bytes.Buffer
	require.NoError(t, merged.WriteJSON(&buffer))
	assert.JSONEq(t, `{
		"list": [1, 2],
		"map": {"a": 1, "b": 2, "c": 2},
		"scalar": "new",
		"extra": true
	}`, buffer.String())

	list, _ := dst.Get("list")
	assert.Len(t, list.List, 1)
}
