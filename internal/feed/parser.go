// Package feed wraps Atom/RSS parsing, feed diffing, and canonical
// Atom 1.0 regeneration for the hub's fetch pipeline.
package feed

import (
	"bytes"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Metadata is a loose key/value view of feed-level or nested data.
// Keeping it map-shaped lets the comparator count keys and lets the
// generator emit passthrough elements it has never heard of.
type Metadata map[string]any

// Entry is a single feed item. Well-known keys ("id", "title", "link",
// "updated_parsed", ...) have typed accessors; everything else rides
// along untouched.
type Entry map[string]any

// Parsed is the hub's view of a parsed feed.
type Parsed struct {
	// Bozo is set when the input could not be parsed as Atom or RSS.
	Bozo    bool
	Version string // e.g. "atom10", "rss20"
	Feed    Metadata
	Entries []Entry
}

// ID returns the entry's unique identifier.
func (e Entry) ID() string { return stringField(e, "id") }

// Title returns the entry title, empty when absent.
func (e Entry) Title() string { return stringField(e, "title") }

// Link returns the entry's alternate link.
func (e Entry) Link() string { return stringField(e, "link") }

// UpdatedParsed returns the entry's sortable update time, zero when the
// source carried none.
func (e Entry) UpdatedParsed() time.Time {
	if t, ok := e["updated_parsed"].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Title returns the feed title.
func (m Metadata) Title() string { return stringField(m, "title") }

// Author returns the feed author name, empty when absent.
func (m Metadata) Author() string { return stringField(m, "author") }

// Link returns the feed's alternate link.
func (m Metadata) Link() string { return stringField(m, "link") }

// SelfLink returns the href of the first rel=self link, or "".
func (m Metadata) SelfLink() string {
	links, ok := m["links"].([]Metadata)
	if !ok {
		return ""
	}
	for _, l := range links {
		if stringField(l, "rel") == "self" {
			return stringField(l, "href")
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Parse converts raw bytes into a Parsed feed. Empty input returns nil.
// Malformed input never returns an error: the result carries Bozo=true
// instead, mirroring how lenient feed parsers report damage.
func Parse(data []byte) *Parsed {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	f, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil || f == nil {
		return &Parsed{Bozo: true}
	}

	p := &Parsed{
		Version: f.FeedType + strings.ReplaceAll(f.FeedVersion, ".", ""),
		Feed:    feedMetadata(f),
		Entries: make([]Entry, 0, len(f.Items)),
	}
	for _, item := range f.Items {
		p.Entries = append(p.Entries, entryFromItem(item))
	}
	return p
}

func feedMetadata(f *gofeed.Feed) Metadata {
	m := Metadata{
		"title": f.Title,
		"link":  f.Link,
	}

	var links []Metadata
	if f.FeedLink != "" {
		links = append(links, Metadata{"rel": "self", "href": f.FeedLink})
	}
	if f.Link != "" {
		links = append(links, Metadata{"rel": "alternate", "href": f.Link})
	}
	if links != nil {
		m["links"] = links
	}

	if f.Author != nil && f.Author.Name != "" {
		m["author"] = f.Author.Name
	} else if len(f.Authors) > 0 && f.Authors[0].Name != "" {
		m["author"] = f.Authors[0].Name
	}

	setIfNonEmpty(m, "subtitle", f.Description)
	setIfNonEmpty(m, "language", f.Language)
	setIfNonEmpty(m, "rights", f.Copyright)
	setIfNonEmpty(m, "generator", f.Generator)
	setIfNonEmpty(m, "updated", f.Updated)
	if f.UpdatedParsed != nil {
		m["updated_parsed"] = *f.UpdatedParsed
	}
	return m
}

func entryFromItem(item *gofeed.Item) Entry {
	e := Entry{
		"id":    item.GUID,
		"title": item.Title,
		"link":  item.Link,
	}
	if item.GUID == "" {
		e["id"] = item.Link
	}

	setIfNonEmpty(e, "summary", item.Description)
	setIfNonEmpty(e, "updated", item.Updated)
	setIfNonEmpty(e, "published", item.Published)

	switch {
	case item.UpdatedParsed != nil:
		e["updated_parsed"] = *item.UpdatedParsed
	case item.PublishedParsed != nil:
		e["updated_parsed"] = *item.PublishedParsed
	}

	if len(item.Categories) > 0 {
		e["tags"] = append([]string(nil), item.Categories...)
	}
	if item.Content != "" {
		e["content"] = []Metadata{{"value": item.Content}}
	}
	if item.Author != nil && item.Author.Name != "" {
		e["author_name"] = item.Author.Name
	}

	// Extension elements ride along as passthrough values so the
	// generator can re-emit them.
	for _, byName := range item.Extensions {
		for name, exts := range byName {
			for _, x := range exts {
				appendPassthrough(e, name, extensionValue(x))
			}
		}
	}
	for k, v := range item.Custom {
		appendPassthrough(e, k, v)
	}
	return e
}

// extensionValue flattens an extension element into a Metadata value:
// the element text under "value" plus its attributes.
func extensionValue(x ext.Extension) any {
	if len(x.Attrs) == 0 {
		return x.Value
	}
	m := Metadata{"value": x.Value}
	for k, v := range x.Attrs {
		m[k] = v
	}
	return m
}

func appendPassthrough(e Entry, key string, value any) {
	existing, ok := e[key]
	if !ok {
		e[key] = value
		return
	}
	if list, ok := existing.([]any); ok {
		e[key] = append(list, value)
		return
	}
	e[key] = []any{existing, value}
}

func setIfNonEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
