// Package config implements the hierarchical, dot-path addressed
// configuration tree: a tagged Node variant, typed accessors, JSON file
// persistence, and hot reload with diff-then-atomic-swap semantics.
// JSON is the only supported file format.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Kind identifies the tagged variant a Node holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindArray
	KindObject
)

// Node is a recursive tagged configuration value. Object nodes preserve
// insertion order via keys/fields running in parallel.
type Node struct {
	kind Kind

	boolVal   bool
	intVal    int64
	floatVal  float64
	stringVal string
	arrayVal  []Node

	keys   []string
	fields map[string]Node
}

func Null() Node              { return Node{kind: KindNull} }
func Bool(v bool) Node        { return Node{kind: KindBool, boolVal: v} }
func Integer(v int64) Node    { return Node{kind: KindInteger, intVal: v} }
func Float(v float64) Node    { return Node{kind: KindFloat, floatVal: v} }
func String(v string) Node    { return Node{kind: KindString, stringVal: v} }
func Array(items ...Node) Node {
	return Node{kind: KindArray, arrayVal: append([]Node{}, items...)}
}
func Object() Node {
	return Node{kind: KindObject, fields: make(map[string]Node)}
}

func (n Node) Kind() Kind { return n.kind }

func (n Node) AsBool(def bool) bool {
	if n.kind != KindBool {
		return def
	}
	return n.boolVal
}

func (n Node) AsInteger(def int64) int64 {
	if n.kind != KindInteger {
		return def
	}
	return n.intVal
}

func (n Node) AsFloat(def float64) float64 {
	switch n.kind {
	case KindFloat:
		return n.floatVal
	case KindInteger:
		return float64(n.intVal)
	default:
		return def
	}
}

func (n Node) AsString(def string) string {
	if n.kind != KindString {
		return def
	}
	return n.stringVal
}

func (n Node) AsArray() []Node {
	if n.kind != KindArray {
		return nil
	}
	return n.arrayVal
}

// Get returns the field named key on an Object node, or Null with ok=false.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != KindObject {
		return Node{}, false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Set returns a copy of n (an Object; zero-value promotes to one) with
// key set to value. Node is a value type throughout this package, so Set
// never mutates a node another goroutine might be reading.
func (n Node) Set(key string, value Node) Node {
	if n.kind != KindObject {
		n = Object()
	} else {
		n = n.clone()
	}
	if _, exists := n.fields[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = value
	return n
}

func (n Node) clone() Node {
	cp := Node{kind: n.kind, boolVal: n.boolVal, intVal: n.intVal, floatVal: n.floatVal, stringVal: n.stringVal}
	if n.arrayVal != nil {
		cp.arrayVal = append([]Node{}, n.arrayVal...)
	}
	if n.fields != nil {
		cp.fields = make(map[string]Node, len(n.fields))
		for k, v := range n.fields {
			cp.fields[k] = v
		}
		cp.keys = append([]string{}, n.keys...)
	}
	return cp
}

// Keys returns an Object node's field names in insertion order.
func (n Node) Keys() []string {
	if n.kind != KindObject {
		return nil
	}
	return append([]string{}, n.keys...)
}

// dotPath splits "a.b.c" into ["a","b","c"].
func dotPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// GetPath descends path through nested Object (and, where segments are
// integer-like, Array) nodes.
func (n Node) GetPath(path string) (Node, bool) {
	segs := dotPath(path)
	cur := n
	for _, seg := range segs {
		switch cur.kind {
		case KindObject:
			v, ok := cur.fields[seg]
			if !ok {
				return Node{}, false
			}
			cur = v
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arrayVal) {
				return Node{}, false
			}
			cur = cur.arrayVal[idx]
		default:
			return Node{}, false
		}
	}
	return cur, true
}

// SetPath returns a new tree with path set to value, creating intermediate
// Object nodes as needed.
func (n Node) SetPath(path string, value Node) Node {
	segs := dotPath(path)
	if len(segs) == 0 {
		return value
	}
	return setPathRec(n, segs, value)
}

func setPathRec(n Node, segs []string, value Node) Node {
	head, rest := segs[0], segs[1:]
	if len(rest) == 0 {
		return n.Set(head, value)
	}
	child, ok := n.Get(head)
	if !ok || child.kind != KindObject {
		child = Object()
	}
	return n.Set(head, setPathRec(child, rest, value))
}

// HasPath reports whether path resolves to any node (including Null).
func (n Node) HasPath(path string) bool {
	_, ok := n.GetPath(path)
	return ok
}

// MarshalJSON implements json.Marshaler for both encoding/json and
// goccy/go-json (goccy honors the standard Marshaler interface).
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if n.boolVal {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInteger:
		return []byte(strconv.FormatInt(n.intVal, 10)), nil
	case KindFloat:
		return []byte(strconv.FormatFloat(n.floatVal, 'g', -1, 64)), nil
	case KindString:
		return gojson.Marshal(n.stringVal)
	case KindArray:
		return gojson.Marshal(n.arrayVal)
	case KindObject:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := gojson.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			vb, err := n.fields[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("config: unknown node kind %d", n.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, decoding into the tagged
// variant that best matches the JSON value. Object fields are inserted in
// sorted key order; the key order of the source document is not preserved.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw any
	dec := gojson.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*n = fromAny(raw)
	return nil
}

func fromAny(raw any) Node {
	switch v := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case string:
		return String(v)
	case gojson.Number:
		if i, err := v.Int64(); err == nil {
			return Integer(i)
		}
		f, _ := v.Float64()
		return Float(f)
	case []any:
		items := make([]Node, len(v))
		for i, item := range v {
			items[i] = fromAny(item)
		}
		return Array(items...)
	case map[string]any:
		obj := Object()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys) // map iteration order is random; sort for determinism
		for _, k := range keys {
			obj = obj.Set(k, fromAny(v[k]))
		}
		return obj
	default:
		return Null()
	}
}
