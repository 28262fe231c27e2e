package prompt

import (
	"fmt"
	"reflect"
	"strings"
)

// scope is the evaluation environment for a subtree: the root variable map
// plus, inside an {{#each}} body, the current item ("."). Dotted paths
// starting with "." resolve against dot; anything else resolves against
// root.
type scope struct {
	root map[string]any
	dot  any
}

// Render walks a parsed node tree and produces its text output against ctx.
func Render(nodes []node, ctx map[string]any) (string, error) {
	var buf strings.Builder
	if err := renderNodes(&buf, nodes, scope{root: ctx}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderNodes(buf *strings.Builder, nodes []node, sc scope) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			buf.WriteString(n.text)

		case nodeVar:
			v, _ := resolvePath(sc, n.path)
			buf.WriteString(displayString(v))

		case nodeIf:
			cond, _ := resolvePath(sc, n.path)
			body := n.elseBody
			if truthy(cond) {
				body = n.body
			}
			if err := renderNodes(buf, body, sc); err != nil {
				return err
			}

		case nodeEach:
			list, ok := resolvePath(sc, n.path)
			if !ok {
				continue
			}
			items, err := toSlice(list)
			if err != nil {
				return fmt.Errorf("prompt: {{#each %s}}: %w", n.path, err)
			}
			for _, item := range items {
				itemScope := scope{root: sc.root, dot: item}
				if err := renderNodes(buf, n.body, itemScope); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolvePath looks up a dotted path against the scope. A leading "." (or
// the bare ".") resolves against the current {{#each}} item; anything else
// resolves against the root variable map. Each subsequent segment navigates
// a nested field/bean property (map key, struct field, or zero-arg getter
// method), per the "dotted paths access nested fields/bean properties"
// contract.
func resolvePath(sc scope, path string) (any, bool) {
	if path == "." {
		return sc.dot, sc.dot != nil
	}

	var cur any
	var segments []string
	if strings.HasPrefix(path, ".") {
		cur = sc.dot
		segments = strings.Split(strings.TrimPrefix(path, "."), ".")
	} else {
		parts := strings.Split(path, ".")
		root, ok := sc.root[parts[0]]
		if !ok {
			return nil, false
		}
		cur = root
		segments = parts[1:]
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		next, ok := getField(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// getField reads one property off obj: a map key, a struct field, or a
// zero-argument exported method (the "bean property" getter shape).
func getField(obj any, key string) (any, bool) {
	if obj == nil {
		return nil, false
	}

	switch m := obj.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	}

	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		mv := v.MapIndex(reflect.ValueOf(key))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true

	case reflect.Struct:
		if fv := fieldByNameFold(v, key); fv.IsValid() {
			return fv.Interface(), true
		}
	}

	if method := methodByNameFold(reflect.ValueOf(obj), key); method.IsValid() {
		t := method.Type()
		if t.NumIn() == 0 && t.NumOut() == 1 {
			out := method.Call(nil)
			return out[0].Interface(), true
		}
	}

	return nil, false
}

func fieldByNameFold(v reflect.Value, name string) reflect.Value {
	if fv := v.FieldByName(name); fv.IsValid() {
		return fv
	}
	return v.FieldByNameFunc(func(candidate string) bool {
		return strings.EqualFold(candidate, name)
	})
}

func methodByNameFold(v reflect.Value, name string) reflect.Value {
	if m := v.MethodByName(name); m.IsValid() {
		return m
	}
	titled := strings.ToUpper(name[:1]) + name[1:]
	if m := v.MethodByName("Get" + titled); m.IsValid() {
		return m
	}
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		if strings.EqualFold(t.Method(i).Name, name) {
			return v.Method(i)
		}
	}
	return reflect.Value{}
}

func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if items, ok := v.([]any); ok {
		return items, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("value is not a list (%T)", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return !reflect.ValueOf(val).IsZero()
	case float32, float64:
		return !reflect.ValueOf(val).IsZero()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func displayString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
