// Package out writes command results as a JSON envelope or as plain text.
// Plain output is one key=value line per row, followed by comment lines for
// the sources that answered the command and any warnings.
package out

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/quasar-finance/daoresolve/internal/config"
	"github.com/quasar-finance/daoresolve/internal/model"
)

// leadKeys come first on a plain line, in this order, when a row has them.
var leadKeys = []string{"chain_id", "id", "address", "type", "status", "title", "voter", "vote", "power", "key", "token_id"}

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if settings.ResultsOnly {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if settings.ResultsOnly || data != nil {
		if err := renderRows(w, data); err != nil {
			return err
		}
	}
	if settings.ResultsOnly {
		return nil
	}
	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error code=%d type=%s message=%s\n", env.Error.Code, env.Error.Type, strconv.Quote(env.Error.Message)); err != nil {
			return err
		}
	}
	for _, s := range env.Meta.Sources {
		if _, err := fmt.Fprintln(w, sourceLine(s)); err != nil {
			return err
		}
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "# warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func renderRows(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			break
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
	_, err := fmt.Fprintln(w, toLine(normalizeValue(data)))
	return err
}

func sourceLine(s model.SourceStatus) string {
	return fmt.Sprintf("# source query=%s contract=%s chain=%s from=%s cached=%t latency_ms=%d",
		s.Query, s.Contract, s.ChainID, s.Source, s.Cached, s.LatencyMS)
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
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
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// normalizeValue round-trips v through JSON so struct tags decide the keys.
// Numbers stay json.Number so heights and ids print without exponents.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return scalar(v)
	}
	parts := make([]string, 0, len(m))
	seen := make(map[string]bool, len(leadKeys))
	for _, k := range leadKeys {
		if val, ok := m[k]; ok {
			parts = append(parts, k+"="+scalar(val))
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, k+"="+scalar(m[k]))
	}
	return strings.Join(parts, " ")
}

// scalar formats one plain value. Nested objects and lists are compact JSON
// and strings with spaces are quoted so a line splits cleanly on spaces.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if t == "" || strings.ContainsAny(t, " \t\n\"") {
			return strconv.Quote(t)
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	}
}
