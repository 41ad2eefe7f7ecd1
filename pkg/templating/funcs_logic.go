package templating

import (
	"fmt"
	"reflect"
)

// seq returns the integers 0 to count-1, capped at MaxRepeat.
func (tm *TemplateManager) seq(count any) []int {
	n := toInt(count)
	if n < 0 {
		return []int{}
	}
	if limit := tm.config.MaxRepeat; limit > 0 && n > limit {
		n = limit
	}
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// list returns a slice containing all the arguments passed to it.
func list(args ...any) []any {
	return args
}

// dict builds a map from alternating keys and values, for passing several
// values to a partial.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("dict requires an even number of arguments, got %d", len(pairs))
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %d is %T, not a string", i/2, pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}

// defaultValue returns val unless it is unset, in which case def.
// Argument order allows {{.Title | default "Untitled"}}.
func defaultValue(def, val any) any {
	if isSet(val) {
		return val
	}
	return def
}

// isSet returns true if a value is not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return !v.IsZero()
	}
}

// first returns the first element of a slice or array, or nil.
func first(items any) any {
	v := reflect.ValueOf(items)
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return nil
		}
		return v.Index(0).Interface()
	default:
		return nil
	}
}
