package cards

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Binding keys inside expressions. Card authors write $root, $data and
// $index; they are rewritten to these names before compilation.
const (
	rootKey  = "_root"
	dataKey  = "_data"
	indexKey = "_index"
)

var (
	bindingPattern = regexp.MustCompile(`\$\{([^{}]*)\}`)
	dollarNames    = strings.NewReplacer("$root", rootKey, "$data", dataKey, "$index", indexKey)
)

// scope is the data an expression sees.
type scope struct {
	root  any
	data  any
	index int
}

func (s scope) env() map[string]any {
	env := make(map[string]any)
	if m, ok := s.data.(map[string]any); ok {
		for k, v := range m {
			env[k] = v
		}
	}
	env[rootKey] = s.root
	env[dataKey] = s.data
	env[indexKey] = s.index
	return env
}

// maxCachedPrograms bounds the compiled expression cache. Card templates
// arrive with requests, so the keys are caller controlled.
const maxCachedPrograms = 512

// evaluator compiles and caches expressions.
type evaluator struct {
	programs map[string]*exprvm.Program
	mu       sync.Mutex
}

func newEvaluator() *evaluator {
	return &evaluator{programs: make(map[string]*exprvm.Program)}
}

func (e *evaluator) program(expression string) (*exprvm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[expression]; ok {
		return p, nil
	}
	p, err := exprlang.Compile(dollarNames.Replace(expression),
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]*exprvm.Program)
	}
	e.programs[expression] = p
	return p, nil
}

func (e *evaluator) eval(expression string, s scope) (any, error) {
	p, err := e.program(strings.TrimSpace(expression))
	if err != nil {
		return nil, err
	}
	out, err := exprlang.Run(p, s.env())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return out, nil
}

// expand resolves bindings in v. A string that is exactly one binding keeps
// the type of its value; other strings are interpolated. Objects with a
// $when that evaluates to false are dropped (ok is false). Objects with a
// $data array are repeated once per element, which expandList flattens.
func (e *evaluator) expand(v any, s scope) (out any, ok bool, err error) {
	switch t := v.(type) {
	case string:
		out, err = e.expandString(t, s)
		return out, err == nil, err
	case []any:
		out, err = e.expandList(t, s)
		return out, err == nil, err
	case map[string]any:
		return e.expandObject(t, s)
	default:
		return v, true, nil
	}
}

func (e *evaluator) expandString(str string, s scope) (any, error) {
	if !strings.Contains(str, "${") {
		return str, nil
	}
	if m := bindingPattern.FindStringSubmatchIndex(str); m != nil && m[0] == 0 && m[1] == len(str) {
		return e.eval(str[m[2]:m[3]], s)
	}

	var firstErr error
	out := bindingPattern.ReplaceAllStringFunc(str, func(match string) string {
		val, err := e.eval(match[2:len(match)-1], s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		if val == nil {
			return ""
		}
		return fmt.Sprint(val)
	})
	return out, firstErr
}

func (e *evaluator) expandList(list []any, s scope) ([]any, error) {
	out := make([]any, 0, len(list))
	for _, item := range list {
		if obj, isObj := item.(map[string]any); isObj {
			if repeated, isRepeat, err := e.repeat(obj, s); err != nil {
				return nil, err
			} else if isRepeat {
				out = append(out, repeated...)
				continue
			}
		}
		v, keep, err := e.expand(item, s)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, nil
}

// repeat expands obj once per element when its $data binds to an array.
func (e *evaluator) repeat(obj map[string]any, s scope) ([]any, bool, error) {
	raw, has := obj["$data"]
	if !has {
		return nil, false, nil
	}
	data, _, err := e.expand(raw, s)
	if err != nil {
		return nil, false, err
	}
	items, isList := data.([]any)
	if !isList {
		return nil, false, nil
	}

	template := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != "$data" {
			template[k] = v
		}
	}
	var out []any
	for i, item := range items {
		v, keep, err := e.expandObject(template, scope{root: s.root, data: item, index: i})
		if err != nil {
			return nil, false, err
		}
		if keep {
			out = append(out, v)
		}
	}
	return out, true, nil
}

func (e *evaluator) expandObject(obj map[string]any, s scope) (any, bool, error) {
	if raw, has := obj["$data"]; has {
		data, _, err := e.expand(raw, s)
		if err != nil {
			return nil, false, err
		}
		s = scope{root: s.root, data: data}
	}
	if raw, has := obj["$when"]; has {
		cond, _, err := e.expand(raw, s)
		if err != nil {
			return nil, false, err
		}
		if !truthy(cond) {
			return nil, false, nil
		}
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "$data" || k == "$when" {
			continue
		}
		ev, keep, err := e.expand(v, s)
		if err != nil {
			return nil, false, err
		}
		if keep {
			out[k] = ev
		}
	}
	return out, true, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
