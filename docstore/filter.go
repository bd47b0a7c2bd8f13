package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Filter selects documents by top-level fields. A plain value means
// equality; a map of operators ($eq, $ne, $gt, $gte, $lt, $lte, $in) applies
// each operator. An empty filter matches everything.
type Filter map[string]any

// Match reports whether doc satisfies every condition of f.
func (f Filter) Match(doc Document) bool {
	for field, cond := range f {
		got, present := doc[field]
		ops, isOps := operators(cond)
		if !isOps {
			if !present || compare(got, cond) != 0 {
				return false
			}
			continue
		}
		for op, want := range ops {
			if !apply(op, got, present, want) {
				return false
			}
		}
	}
	return true
}

// Validate reports unknown operators.
func (f Filter) Validate() error {
	for field, cond := range f {
		ops, ok := operators(cond)
		if !ok {
			continue
		}
		for op := range ops {
			switch op {
			case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in":
			default:
				return fmt.Errorf("filter %s: unknown operator %q", field, op)
			}
		}
	}
	return nil
}

// equalities returns the conditions of f a SQL backend can narrow rows by:
// plain or $eq string and number values on simple field names. exact is
// false when f holds anything else, which only Match can decide.
func (f Filter) equalities() (eq map[string]any, exact bool) {
	eq = make(map[string]any)
	exact = true
	for field, cond := range f {
		want := cond
		if ops, ok := operators(cond); ok {
			v, has := ops["$eq"]
			if len(ops) != 1 {
				exact = false
			}
			if !has {
				continue
			}
			want = v
		}
		v, ok := scalar(want)
		if !ok || !simpleField(field) {
			exact = false
			continue
		}
		eq[field] = v
	}
	return eq, exact
}

func scalar(v any) (any, bool) {
	if n, ok := number(v); ok {
		return n, true
	}
	if s, ok := asString(v); ok {
		return s, true
	}
	return nil, false
}

// simpleField reports whether name can be spliced into a JSON path.
func simpleField(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func operators(cond any) (map[string]any, bool) {
	var m map[string]any
	switch c := cond.(type) {
	case map[string]any:
		m = c
	case Filter:
		m = c
	case Document:
		m = c
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func apply(op string, got any, present bool, want any) bool {
	switch op {
	case "$eq":
		return present && compare(got, want) == 0
	case "$ne":
		return !present || compare(got, want) != 0
	case "$in":
		if !present {
			return false
		}
		rv := reflect.ValueOf(want)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if compare(got, rv.Index(i).Interface()) == 0 {
				return true
			}
		}
		return false
	}

	if !present {
		return false
	}
	c := compare(got, want)
	if c == incomparable {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

const incomparable = 2

// compare orders numbers numerically and strings lexically. Anything else
// is equal only if deeply equal after normalization.
func compare(a, b any) int {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return incomparable
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			if s, isStr := asString(b); isStr {
				sb = s
			} else {
				return incomparable
			}
		}
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	}
	if reflect.DeepEqual(jsonish(a), jsonish(b)) {
		return 0
	}
	return incomparable
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asString accepts named string types such as broker.OrderStatus.
func asString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func jsonish(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
