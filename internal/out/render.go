package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/kswap/internal/model"
)

// Options controls how an envelope is written.
type Options struct {
	Mode string
	// SelectFields are dotted paths into data, e.g. "attempts.tx_hash".
	SelectFields []string
	ResultsOnly  bool
}

func (o Options) plain() bool { return o.Mode == "plain" }

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.SelectFields) > 0 {
		data = project(data, opts.SelectFields)
	}

	switch {
	case opts.ResultsOnly && opts.plain():
		return renderPlain(w, data)
	case opts.ResultsOnly:
		return writeJSON(w, data)
	case opts.plain():
		plain := map[string]any{
			"success":  env.Success,
			"data":     data,
			"warnings": env.Warnings,
			"meta":     env.Meta,
		}
		if env.Error != nil {
			plain["error"] = env.Error
		}
		return renderPlain(w, plain)
	default:
		env.Data = data
		return writeJSON(w, env)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain writes one line per list item, or a single line otherwise.
func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	if k := v.Kind(); k != reflect.Slice && k != reflect.Array {
		_, err := fmt.Fprintln(w, toLine(normalizeValue(data)))
		return err
	}
	if v.Len() == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if _, err := fmt.Fprintln(w, toLine(normalizeValue(v.Index(i).Interface()))); err != nil {
			return err
		}
	}
	return nil
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := strings.Split(strings.TrimSpace(f), ".")
		if v, ok := lookup(m, path); ok {
			out[strings.Join(path, ".")] = v
		}
	}
	return out
}

// lookup walks a dotted path. A list on the way yields the list of values
// found in its elements.
func lookup(v any, path []string) (any, bool) {
	if len(path) == 0 {
		return v, true
	}
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[path[0]]
		if !ok {
			return nil, false
		}
		return lookup(next, path[1:])
	case []any:
		found := make([]any, 0, len(t))
		for _, item := range t {
			if got, ok := lookup(item, path); ok {
				found = append(found, got)
			}
		}
		return found, len(found) > 0
	default:
		return nil, false
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return scalar(v)
	}
	flat := make(map[string]string)
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

// flatten turns nested objects into dotted keys. Lists stay JSON encoded.
func flatten(prefix string, m map[string]any, dst map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, dst)
			continue
		}
		dst[key] = scalar(v)
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case []any, map[string]any:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}
