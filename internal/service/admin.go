package service

import (
	"sort"
	"time"
)

// TopicInfo is the admin view of a tracked topic.
type TopicInfo struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	ContentBytes int       `json:"content_bytes"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastPingedAt time.Time `json:"last_pinged_at"`
	Changed      bool      `json:"changed"`
	Failed       bool      `json:"failed"`
	Subscribers  int       `json:"subscribers"`
}

// SubscriberInfo is the admin view of a subscriber.
type SubscriberInfo struct {
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
	Topics      []string  `json:"topics"`
}

// ListenerInfo is the admin view of a listener.
type ListenerInfo struct {
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
	Topics      []string  `json:"topics"`
}

// ListTopics returns tracked topics ordered by URL, sliced by limit and
// offset.
func (s *HubService) ListTopics(limit, offset int) []TopicInfo {
	var out []TopicInfo
	for _, t := range s.Hub.Topics() {
		snap := t.Snapshot()
		out = append(out, TopicInfo{
			URL:          snap.URL,
			ContentType:  snap.ContentType,
			ContentBytes: len(snap.Content),
			FetchedAt:    snap.FetchedAt,
			LastPingedAt: snap.LastPinged,
			Changed:      snap.Changed,
			Failed:       snap.Failed,
			Subscribers:  t.SubscriberCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return slicePage(out, limit, offset)
}

// ListSubscribers returns known subscribers ordered by callback URL,
// each with the topics it is attached to.
func (s *HubService) ListSubscribers(limit, offset int) []SubscriberInfo {
	topicsByCallback := map[string][]string{}
	for _, t := range s.Hub.Topics() {
		for _, sub := range t.Subscribers() {
			topicsByCallback[sub.CallbackURL] = append(topicsByCallback[sub.CallbackURL], t.URL)
		}
	}

	var out []SubscriberInfo
	for _, sub := range s.Hub.Subscribers() {
		topics := topicsByCallback[sub.CallbackURL]
		sort.Strings(topics)
		out = append(out, SubscriberInfo{
			CallbackURL: sub.CallbackURL,
			CreatedAt:   sub.CreatedAt,
			Topics:      topics,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallbackURL < out[j].CallbackURL })
	return slicePage(out, limit, offset)
}

// ListListeners returns registered listeners ordered by callback URL,
// each with the topics already announced to it.
func (s *HubService) ListListeners(limit, offset int) []ListenerInfo {
	var out []ListenerInfo
	for _, l := range s.Hub.Listeners() {
		topics := l.Topics()
		sort.Strings(topics)
		out = append(out, ListenerInfo{
			CallbackURL: l.CallbackURL,
			CreatedAt:   l.CreatedAt,
			Topics:      topics,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallbackURL < out[j].CallbackURL })
	return slicePage(out, limit, offset)
}

func slicePage[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
