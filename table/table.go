// Package table implements the recursive key/value structure used as the
// universal message payload. A table holds scalar entries and nested
// sub-tables; both keys and scalar values are drawn from the same closed set
// of types: int64, float64, bool, string and Pointer.
//
// Tables cross goroutine boundaries by value semantics: senders hand
// ownership to the runtime at enqueue and must not mutate afterwards.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Pointer is a managed-pointer scalar. Its numeric value is an address minted
// by the managed buffer allocator; see the ffi package for lifetime rules.
type Pointer uintptr

// Table is a recursive map. A key should appear in at most one of Data or
// Subs at a single level; the write paths in this package maintain that, but
// readers tolerate violations from hand-built tables.
type Table struct {
	Data map[any]any
	Subs map[any]*Table
}

// New returns an empty table.
func New() *Table {
	return &Table{
		Data: make(map[any]any),
		Subs: make(map[any]*Table),
	}
}

// Norm canonicalizes a scalar to the value domain. Integers of any width
// become int64, float32 becomes float64. Values already in the domain pass
// through unchanged.
func Norm(v any) (any, error) {
	switch x := v.(type) {
	case int64, float64, bool, string, Pointer:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case uintptr:
		return Pointer(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("table: unsupported scalar type %T", v)
	}
}

// MustNorm is Norm for values known to be in the domain.
func MustNorm(v any) any {
	n, err := Norm(v)
	if err != nil {
		panic(err)
	}
	return n
}

// Set stores a scalar under key, removing any sub-table stored under the
// same key.
func (t *Table) Set(key, value any) {
	k := MustNorm(key)
	delete(t.Subs, k)
	t.Data[k] = MustNorm(value)
}

// Get returns the scalar stored under key.
func (t *Table) Get(key any) (any, bool) {
	v, ok := t.Data[MustNorm(key)]
	return v, ok
}

// SetSub stores a sub-table under key, removing any scalar stored under the
// same key.
func (t *Table) SetSub(key any, sub *Table) {
	k := MustNorm(key)
	delete(t.Data, k)
	t.Subs[k] = sub
}

// Sub returns the sub-table stored under key, creating it if absent (which
// removes any scalar stored under the same key).
func (t *Table) Sub(key any) *Table {
	k := MustNorm(key)
	s, ok := t.Subs[k]
	if !ok {
		s = New()
		delete(t.Data, k)
		t.Subs[k] = s
	}
	return s
}

// GetSub returns the sub-table stored under key, or nil.
func (t *Table) GetSub(key any) *Table {
	return t.Subs[MustNorm(key)]
}

// String returns the scalar under key as a string, or "" when absent or of a
// different type.
func (t *Table) String(key any) string {
	v, _ := t.Data[MustNorm(key)].(string)
	return v
}

// Int returns the scalar under key as an int64, or 0.
func (t *Table) Int(key any) int64 {
	v, _ := t.Data[MustNorm(key)].(int64)
	return v
}

// Float returns the scalar under key as a float64, or 0.
func (t *Table) Float(key any) float64 {
	v, _ := t.Data[MustNorm(key)].(float64)
	return v
}

// Bool returns the scalar under key as a bool, or false.
func (t *Table) Bool(key any) bool {
	v, _ := t.Data[MustNorm(key)].(bool)
	return v
}

// Has reports whether key is present at this level, in either Data or Subs.
func (t *Table) Has(key any) bool {
	k := MustNorm(key)
	if _, ok := t.Data[k]; ok {
		return true
	}
	_, ok := t.Subs[k]
	return ok
}

// Delete removes key from both Data and Subs.
func (t *Table) Delete(key any) {
	k := MustNorm(key)
	delete(t.Data, k)
	delete(t.Subs, k)
}

// Len returns the number of entries at this level.
func (t *Table) Len() int {
	return len(t.Data) + len(t.Subs)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := New()
	for k, v := range t.Data {
		c.Data[k] = v
	}
	for k, s := range t.Subs {
		c.Subs[k] = s.Clone()
	}
	return c
}

// Equal reports deep equality of two tables.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Data) != len(o.Data) || len(t.Subs) != len(o.Subs) {
		return false
	}
	for k, v := range t.Data {
		if ov, ok := o.Data[k]; !ok || ov != v {
			return false
		}
	}
	for k, s := range t.Subs {
		os, ok := o.Subs[k]
		if !ok || !s.Equal(os) {
			return false
		}
	}
	return true
}

// Format renders the table for logs and the printtable builtin. Keys are
// sorted by their textual form so output is stable.
func (t *Table) Format() string {
	var b strings.Builder
	t.format(&b, 0)
	return b.String()
}

func (t *Table) format(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	keys := make([]any, 0, len(t.Data))
	for k := range t.Data {
		keys = append(keys, k)
	}
	sortKeys(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s%v = %v\n", indent, k, t.Data[k])
	}
	subKeys := make([]any, 0, len(t.Subs))
	for k := range t.Subs {
		subKeys = append(subKeys, k)
	}
	sortKeys(subKeys)
	for _, k := range subKeys {
		fmt.Fprintf(b, "%s%v:\n", indent, k)
		t.Subs[k].format(b, depth+1)
	}
}

func sortKeys(keys []any) {
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
}
