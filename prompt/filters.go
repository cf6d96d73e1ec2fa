package prompt

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v6"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func init() {
	registerFilter("json", filterJSON)
	registerFilter("markdown", filterMarkdown)
	registerFilter("xml", filterXML)
}

func registerFilter(name string, fn pongo2.FilterFunction) {
	if pongo2.FilterExists(name) {
		_ = pongo2.ReplaceFilter(name, fn)
		return
	}
	_ = pongo2.RegisterFilter(name, fn)
}

func filterJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	out, err := ToJSON(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{OrigError: err, Sender: "filter:json"}
	}
	return pongo2.AsValue(out), nil
}

func filterMarkdown(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(ToMarkdown(in.Interface())), nil
}

func filterXML(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	root := "root"
	if param != nil && !param.IsNil() && param.String() != "" {
		root = param.String()
	}
	out, err := ToXML(in.Interface(), root)
	if err != nil {
		return nil, &pongo2.Error{OrigError: err, Sender: "filter:xml"}
	}
	return pongo2.AsValue(out), nil
}

// entry is one key/value pair of a mapping, in output order.
type entry struct {
	key   string
	value any
}

// entries returns the pairs of v when v is a mapping. Ordered maps keep insertion order;
// other maps are sorted by key.
func entries(v any) ([]entry, bool) {
	switch m := v.(type) {
	case *orderedmap.OrderedMap[string, any]:
		out := make([]entry, 0, m.Len())
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			out = append(out, entry{key: pair.Key, value: pair.Value})
		}
		return out, true
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]entry, 0, len(m))
		for _, k := range keys {
			out = append(out, entry{key: k, value: m[k]})
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, entry{key: k.String(), value: rv.MapIndex(k).Interface()})
	}
	return out, true
}

// items returns the elements of v when v is a list (but not a string or byte slice).
func items(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func scalar(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ToJSON encodes v as JSON indented by two spaces without HTML escaping.
func ToJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ToMarkdown renders a mapping as "key: value" lines. Nested mappings follow as sections
// headed one level deeper than their parent, starting at "##"; lists become bullet items.
func ToMarkdown(v any) string {
	var sb strings.Builder
	writeMarkdown(&sb, v, 2)
	return strings.TrimSpace(sb.String())
}

func writeMarkdown(sb *strings.Builder, v any, level int) {
	pairs, ok := entries(v)
	if !ok {
		if list, ok := items(v); ok {
			writeMarkdownList(sb, list)
			return
		}
		sb.WriteString(scalar(v))
		sb.WriteString("\n")
		return
	}

	var sections []entry
	for _, e := range pairs {
		if _, nested := entries(e.value); nested {
			sections = append(sections, e)
			continue
		}
		if list, ok := items(e.value); ok {
			fmt.Fprintf(sb, "%s:\n", e.key)
			writeMarkdownList(sb, list)
			continue
		}
		fmt.Fprintf(sb, "%s: %s\n", e.key, scalar(e.value))
	}
	for _, e := range sections {
		fmt.Fprintf(sb, "%s %s\n", strings.Repeat("#", level), e.key)
		writeMarkdown(sb, e.value, level+1)
	}
}

func writeMarkdownList(sb *strings.Builder, list []any) {
	for _, item := range list {
		if pairs, ok := entries(item); ok {
			fields := make([]string, 0, len(pairs))
			for _, e := range pairs {
				fields = append(fields, e.key+": "+scalar(e.value))
			}
			fmt.Fprintf(sb, "- %s\n", strings.Join(fields, ", "))
			continue
		}
		fmt.Fprintf(sb, "- %s\n", scalar(item))
	}
}

// ToXML renders v as tab-indented XML inside a root element. List values repeat their
// element once per item.
func ToXML(v any, root string) (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := encodeXML(enc, root, v); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeXML(enc *xml.Encoder, name string, v any) error {
	if list, ok := items(v); ok {
		for _, item := range list {
			if err := encodeXML(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if pairs, ok := entries(v); ok {
		for _, e := range pairs {
			if err := encodeXML(enc, e.key, e.value); err != nil {
				return err
			}
		}
	} else if text := scalar(v); text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
