package store

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Tree holds a loosely shaped extraction field: the vision service returns
// materials, keywords, dimensions and specifications as any mix of strings,
// numbers, lists and objects. The shape is validated once, at decode time;
// downstream code only ever sees the closed kinds below.
type Tree struct {
	kind treeKind
	str  string
	num  float64
	list []Tree
	keys []string // object keys, sorted at decode for deterministic walks
	vals map[string]Tree
}

type treeKind int

const (
	treeEmpty treeKind = iota
	treeString
	treeNumber
	treeList
	treeMap
)

// StringTree builds a string leaf. Mostly useful in tests and degraded records.
func StringTree(s string) Tree {
	return Tree{kind: treeString, str: s}
}

// ListTree builds a list node.
func ListTree(items ...Tree) Tree {
	return Tree{kind: treeList, list: items}
}

// MapTree builds an object node from a key/value map.
func MapTree(m map[string]Tree) Tree {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Tree{kind: treeMap, keys: keys, vals: m}
}

// IsEmpty reports whether the field was absent or null.
func (t Tree) IsEmpty() bool {
	return t.kind == treeEmpty
}

// Flatten walks the tree depth-first and returns every term it contains as a
// trimmed string: string leaves, formatted numbers, and object keys all count.
// Object keys are visited in sorted order so the result is deterministic for
// a given value regardless of wire ordering.
func (t Tree) Flatten() []string {
	var terms []string
	t.flattenInto(&terms)
	return terms
}

func (t Tree) flattenInto(terms *[]string) {
	switch t.kind {
	case treeString:
		if s := strings.TrimSpace(t.str); s != "" {
			*terms = append(*terms, s)
		}
	case treeNumber:
		*terms = append(*terms, strconv.FormatFloat(t.num, 'f', -1, 64))
	case treeList:
		for _, item := range t.list {
			item.flattenInto(terms)
		}
	case treeMap:
		for _, k := range t.keys {
			if s := strings.TrimSpace(k); s != "" {
				*terms = append(*terms, s)
			}
			t.vals[k].flattenInto(terms)
		}
	}
}

// UnmarshalJSON converts arbitrary JSON into the closed tree form. Booleans
// become string leaves; null becomes the empty tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = fromAny(raw)
	return nil
}

// MarshalJSON re-emits the original JSON shape.
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toAny())
}

func fromAny(raw any) Tree {
	switch v := raw.(type) {
	case string:
		return Tree{kind: treeString, str: v}
	case float64:
		return Tree{kind: treeNumber, num: v}
	case bool:
		return Tree{kind: treeString, str: strconv.FormatBool(v)}
	case []any:
		list := make([]Tree, 0, len(v))
		for _, item := range v {
			list = append(list, fromAny(item))
		}
		return Tree{kind: treeList, list: list}
	case map[string]any:
		keys := make([]string, 0, len(v))
		vals := make(map[string]Tree, len(v))
		for k, item := range v {
			keys = append(keys, k)
			vals[k] = fromAny(item)
		}
		sort.Strings(keys)
		return Tree{kind: treeMap, keys: keys, vals: vals}
	default:
		return Tree{}
	}
}

func (t Tree) toAny() any {
	switch t.kind {
	case treeString:
		return t.str
	case treeNumber:
		return t.num
	case treeList:
		out := make([]any, 0, len(t.list))
		for _, item := range t.list {
			out = append(out, item.toAny())
		}
		return out
	case treeMap:
		out := make(map[string]any, len(t.keys))
		for _, k := range t.keys {
			out[k] = t.vals[k].toAny()
		}
		return out
	default:
		return nil
	}
}
