package feed

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"
)

// defaultAuthor is used when the source feed carries no author.
const defaultAuthor = "Hub Aggregator"

// handledEntryFields are entry keys the generator emits itself (or
// deliberately drops). Anything outside this set is passed through as an
// extra element.
var handledEntryFields = map[string]bool{
	"author_email":     true,
	"author_link":      true,
	"author_name":      true,
	"categories":       true,
	"content":          true,
	"description":      true,
	"enclosure":        true,
	"guidislink":       true,
	"id":               true,
	"item_copyright":   true,
	"link":             true,
	"pubdate":          true,
	"published":        true,
	"published_parsed": true,
	"summary":          true,
	"tags":             true,
	"title":            true,
	"ttl":              true,
	"unique_id":        true,
	"updated":          true,
	"updated_parsed":   true,
}

// Generate renders a canonical Atom 1.0 feed from feed metadata plus an
// ordered entry list. Entries with no title are skipped. The feed link
// prefers the first rel=self link; a missing author becomes
// "Hub Aggregator".
func Generate(meta Metadata, entries []Entry) ([]byte, error) {
	if meta == nil {
		return nil, fmt.Errorf("feed: generate: nil metadata")
	}

	w := &atomWriter{}
	w.raw(xml.Header)
	w.raw(`<feed xmlns="http://www.w3.org/2005/Atom">` + "\n")

	link := meta.SelfLink()
	if link == "" {
		link = meta.Link()
	}

	w.element(1, "title", meta.Title(), nil)
	if link != "" {
		w.empty(1, "link", map[string]string{"href": link, "rel": "alternate"})
		w.element(1, "id", link, nil)
	}
	w.element(1, "updated", formatAtomTime(feedUpdated(meta, entries)), nil)

	author := meta.Author()
	if author == "" {
		author = defaultAuthor
	}
	w.raw("  <author><name>")
	w.escaped(author)
	w.raw("</name></author>\n")

	for _, e := range entries {
		if e.Title() == "" {
			continue
		}
		w.entry(e)
	}

	w.raw("</feed>\n")
	return []byte(w.b.String()), nil
}

func feedUpdated(meta Metadata, entries []Entry) time.Time {
	var latest time.Time
	for _, e := range entries {
		if t := e.UpdatedParsed(); t.After(latest) {
			latest = t
		}
	}
	if !latest.IsZero() {
		return latest
	}
	if t, ok := meta["updated_parsed"].(time.Time); ok && !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

func formatAtomTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

type atomWriter struct {
	b strings.Builder
}

func (w *atomWriter) raw(s string) { w.b.WriteString(s) }

func (w *atomWriter) escaped(s string) {
	_ = xml.EscapeText(&w.b, []byte(s))
}

func (w *atomWriter) indent(depth int) {
	for i := 0; i < depth; i++ {
		w.b.WriteString("  ")
	}
}

// element writes an indented element with escaped text content.
func (w *atomWriter) element(depth int, name, text string, attrs map[string]string) {
	w.indent(depth)
	w.b.WriteString("<")
	w.b.WriteString(name)
	w.writeAttrs(attrs)
	w.b.WriteString(">")
	w.escaped(text)
	w.b.WriteString("</")
	w.b.WriteString(name)
	w.b.WriteString(">\n")
}

func (w *atomWriter) empty(depth int, name string, attrs map[string]string) {
	w.indent(depth)
	w.b.WriteString("<")
	w.b.WriteString(name)
	w.writeAttrs(attrs)
	w.b.WriteString("/>\n")
}

func (w *atomWriter) writeAttrs(attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.b.WriteString(" ")
		w.b.WriteString(k)
		w.b.WriteString(`="`)
		w.escaped(attrs[k])
		w.b.WriteString(`"`)
	}
}

func (w *atomWriter) entry(e Entry) {
	w.raw("  <entry>\n")
	w.element(2, "title", e.Title(), nil)
	if link := e.Link(); link != "" {
		w.empty(2, "link", map[string]string{"href": link, "rel": "alternate"})
	}
	if id := e.ID(); id != "" {
		w.element(2, "id", id, nil)
	}
	if t := e.UpdatedParsed(); !t.IsZero() {
		w.element(2, "published", formatAtomTime(t), nil)
		w.element(2, "updated", formatAtomTime(t), nil)
	}
	if s, ok := e["summary"].(string); ok && s != "" {
		w.element(2, "summary", s, map[string]string{"type": "html"})
	}
	if tags, ok := e["tags"].([]string); ok {
		for _, tag := range tags {
			w.empty(2, "category", map[string]string{"term": tag})
		}
	}
	if contents, ok := e["content"].([]Metadata); ok {
		for _, c := range contents {
			w.passthrough(2, "content", c)
		}
	}

	// Everything else passes through as extra elements, sorted for
	// deterministic output.
	extra := make([]string, 0, len(e))
	for k := range e {
		if !handledEntryFields[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		w.passthrough(2, k, e[k])
	}

	w.raw("  </entry>\n")
}

// passthrough emits an arbitrary value: maps become elements with
// attributes (the "value" key is the text, a type of
// application/xhtml+xml makes the text raw XML), lists repeat the
// element, nil is dropped, and anything else is stringified.
func (w *atomWriter) passthrough(depth int, name string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case Metadata:
		w.passthroughMap(depth, name, map[string]any(v))
	case map[string]any:
		w.passthroughMap(depth, name, v)
	case []Metadata:
		for _, item := range v {
			w.passthrough(depth, name, item)
		}
	case []any:
		for _, item := range v {
			w.passthrough(depth, name, item)
		}
	case []string:
		for _, item := range v {
			w.passthrough(depth, name, item)
		}
	case string:
		w.element(depth, name, v, nil)
	case time.Time:
		w.element(depth, name, formatAtomTime(v), nil)
	default:
		w.element(depth, name, fmt.Sprint(v), nil)
	}
}

func (w *atomWriter) passthroughMap(depth int, name string, m map[string]any) {
	text, _ := m["value"].(string)
	attrs := make(map[string]string, len(m))
	for k, v := range m {
		if k == "value" || v == nil {
			continue
		}
		attrs[k] = fmt.Sprint(v)
	}

	if attrs["type"] == "application/xhtml+xml" {
		// XHTML content is already markup; write it unescaped.
		w.indent(depth)
		w.b.WriteString("<")
		w.b.WriteString(name)
		w.writeAttrs(attrs)
		w.b.WriteString(">")
		w.b.WriteString(text)
		w.b.WriteString("</")
		w.b.WriteString(name)
		w.b.WriteString(">\n")
		return
	}
	w.element(depth, name, text, attrs)
}
