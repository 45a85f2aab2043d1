package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// The helpers below evaluate filters, updates and sorts in process. Backends
// without a native query engine (memory, badger, sql) share them so that all
// adapters agree on semantics.

// Lookup resolves a dotted path inside doc.
func Lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Match reports whether doc satisfies every predicate of f.
func Match(doc Document, f Filter) bool {
	for path, want := range f {
		got, ok := Lookup(doc, path)
		switch w := want.(type) {
		case InSet:
			if !ok {
				return false
			}
			found := false
			for _, v := range w.Values {
				if Equal(got, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !ok {
				if want != nil {
					return false
				}
				continue
			}
			if !Equal(got, want) {
				return false
			}
		}
	}
	return true
}

// Equal compares two scalar values, treating all numeric types as numbers.
func Equal(a, b any) bool {
	if af, ok := asNumber(a); ok {
		bf, ok := asNumber(b)
		return ok && af == bf
	}
	return Compare(a, b) == 0
}

// Compare orders values: missing/nil < numbers < strings < bools < other.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		af, _ := asNumber(a)
		bf, _ := asNumber(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := asNumber(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// SortDocuments orders docs in place by keys; missing fields sort first.
func SortDocuments(docs []Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := Lookup(docs[i], k.Field)
			b, _ := Lookup(docs[j], k.Field)
			c := Compare(a, b)
			if c == 0 {
				continue
			}
			if k.Order == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// SelectDocuments filters, sorts and limits a candidate set.
func SelectDocuments(candidates []Document, f Filter, opts FindOptions) []Document {
	out := make([]Document, 0, len(candidates))
	for _, d := range candidates {
		if Match(d, f) {
			out = append(out, d)
		}
	}
	SortDocuments(out, opts.Sort)
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// ApplyUpdate returns a copy of doc with u applied.
func ApplyUpdate(doc Document, u Update) (Document, error) {
	out := Clone(doc)
	paths := make([]string, 0, len(u.Set))
	for p := range u.Set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := setPath(out, p, CloneValue(u.Set[p])); err != nil {
			return nil, err
		}
	}
	for _, p := range u.Unset {
		unsetPath(out, p)
	}
	return out, nil
}

func setPath(doc Document, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			m := map[string]any{}
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("docstore: cannot set %q: %q is not a document", path, strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func unsetPath(doc Document, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		m, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = m
	}
	delete(cur, parts[len(parts)-1])
}

// Clone deep-copies a document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return CloneValue(doc).(map[string]any)
}

func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = CloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = CloneValue(x)
		}
		return out
	case []float64:
		return append([]float64(nil), t...)
	case []int64:
		return append([]int64(nil), t...)
	default:
		return v
	}
}

// Normalize converts decoder output (json.Number, typed slices, narrow ints)
// into the canonical value set documented on Document.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = Normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Normalize(x)
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []int64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// IndexKey renders the values of idx's fields in doc as a canonical string.
// Numbers render identically regardless of their Go type.
func IndexKey(doc Document, idx Index) string {
	parts := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		v, _ := Lookup(doc, f)
		parts[i] = canonical(v)
	}
	return strings.Join(parts, "\x1f")
}

// FilterKey renders the equality values of f for idx, when f pins every field
// of idx to a single value.
func FilterKey(f Filter, idx Index) (string, bool) {
	parts := make([]string, len(idx.Fields))
	for i, field := range idx.Fields {
		v, ok := f[field]
		if !ok {
			return "", false
		}
		if _, isSet := v.(InSet); isSet {
			return "", false
		}
		parts[i] = canonical(v)
	}
	return strings.Join(parts, "\x1f"), true
}

func canonical(v any) string {
	if n, ok := asNumber(v); ok {
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return "n:" + strconv.FormatInt(int64(n), 10)
		}
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	}
	switch t := v.(type) {
	case nil:
		return "z:"
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	default:
		raw, _ := json.Marshal(t)
		return "j:" + string(raw)
	}
}

// BestIndex picks the index whose fields are all pinned by f, preferring the
// most selective (most fields, unique first).
func BestIndex(f Filter, indexes []Index) (Index, string, bool) {
	var (
		best    Index
		bestKey string
		found   bool
	)
	for _, idx := range indexes {
		key, ok := FilterKey(f, idx)
		if !ok {
			continue
		}
		if !found || better(idx, best) {
			best, bestKey, found = idx, key, true
		}
	}
	return best, bestKey, found
}

func better(a, b Index) bool {
	if a.Unique != b.Unique {
		return a.Unique
	}
	return len(a.Fields) > len(b.Fields)
}

// SortIndex returns a single-field index on the only sort key, if any.
func SortIndex(opts FindOptions, indexes []Index) (Index, bool) {
	if len(opts.Sort) != 1 {
		return Index{}, false
	}
	for _, idx := range indexes {
		if len(idx.Fields) == 1 && idx.Fields[0] == opts.Sort[0].Field {
			return idx, true
		}
	}
	return Index{}, false
}

// NumericKey returns the numeric value of a single-field index, if numeric.
func NumericKey(doc Document, idx Index) (float64, bool) {
	if len(idx.Fields) != 1 {
		return 0, false
	}
	v, ok := Lookup(doc, idx.Fields[0])
	if !ok {
		return 0, false
	}
	return asNumber(v)
}
