package feed

// Delta is the result of comparing a freshly fetched feed against the
// previously stored one.
type Delta struct {
	New     []Entry
	Updated []Entry
	Removed []Entry

	// Metadata is the winning feed object with its entries removed: the
	// new feed's when metadata changed, the past feed's otherwise.
	Metadata        *Parsed
	MetadataChanged bool
}

// HasChanges reports whether the delta should mark the topic changed.
// Removed entries alone do not count: there is nothing new to deliver.
func (d Delta) HasChanges() bool {
	return len(d.New) > 0 || len(d.Updated) > 0 || d.MetadataChanged
}

// ChangedEntries returns the entries to include in the regenerated
// feed: new entries followed by updated ones, in source order.
func (d Delta) ChangedEntries() []Entry {
	out := make([]Entry, 0, len(d.New)+len(d.Updated))
	out = append(out, d.New...)
	return append(out, d.Updated...)
}

// Compare diffs newFeed against past.
//
// An entry is new when its id is absent from past, removed when a past
// id is absent from newFeed, and updated when the id exists in both and
// either the parsed update time moved forward or the link changed. When
// both update conditions hold the entry appears twice in Updated.
func Compare(newFeed, past *Parsed) Delta {
	d := Delta{}

	pastByID := make(map[string]Entry, len(past.Entries))
	for _, e := range past.Entries {
		pastByID[e.ID()] = e
	}
	newIDs := make(map[string]bool, len(newFeed.Entries))
	for _, e := range newFeed.Entries {
		newIDs[e.ID()] = true
	}

	for _, e := range newFeed.Entries {
		prev, seen := pastByID[e.ID()]
		if !seen {
			d.New = append(d.New, e)
			continue
		}
		if e.UpdatedParsed().After(prev.UpdatedParsed()) {
			d.Updated = append(d.Updated, e)
		}
		if e.Link() != prev.Link() {
			d.Updated = append(d.Updated, e)
		}
	}

	for _, e := range past.Entries {
		if !newIDs[e.ID()] {
			d.Removed = append(d.Removed, e)
		}
	}

	d.MetadataChanged = metadataChanged(newFeed.Feed, past.Feed)
	src := past
	if d.MetadataChanged {
		src = newFeed
	}
	d.Metadata = copyWithoutEntries(src)

	return d
}

func metadataChanged(newMeta, pastMeta Metadata) bool {
	if newMeta.Title() != pastMeta.Title() {
		return true
	}
	// Absent vs present counts as a change.
	_, newHas := newMeta["author"]
	_, pastHas := pastMeta["author"]
	if newHas != pastHas || newMeta.Author() != pastMeta.Author() {
		return true
	}
	return len(newMeta) > len(pastMeta)
}

// copyWithoutEntries deep-copies a Parsed feed, dropping its entries.
func copyWithoutEntries(p *Parsed) *Parsed {
	return &Parsed{
		Bozo:    p.Bozo,
		Version: p.Version,
		Feed:    copyValue(p.Feed).(Metadata),
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case Metadata:
		out := make(Metadata, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case Entry:
		out := make(Entry, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []Metadata:
		out := make([]Metadata, len(t))
		for i, val := range t {
			out[i] = copyValue(val).(Metadata)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
