package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pushhub/pushhub/internal/model"
)

func newTestRepo(t *testing.T) *HubRepo {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHubRepo(db)
}

func TestTopicUpsertRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	topic := model.Topic{
		URL:          "http://example.com/feed",
		Content:      []byte("<feed/>"),
		ContentType:  "application/atom+xml",
		FetchedAtNs:  now,
		LastPingedNs: now,
		Changed:      true,
	}
	if err := repo.UpsertTopic(topic); err != nil {
		t.Fatalf("upsert topic: %v", err)
	}

	got, err := repo.GetTopic(topic.URL)
	if err != nil {
		t.Fatalf("get topic: %v", err)
	}
	if string(got.Content) != "<feed/>" || !got.Changed || got.Failed {
		t.Fatalf("unexpected topic after round trip: %+v", got)
	}

	topic.Changed = false
	topic.Failed = true
	if err := repo.UpsertTopic(topic); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = repo.GetTopic(topic.URL)
	if err != nil {
		t.Fatalf("get topic after update: %v", err)
	}
	if got.Changed || !got.Failed {
		t.Fatalf("upsert did not update flags: %+v", got)
	}

	topics, err := repo.ListTopics()
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("len(topics) = %d, want 1", len(topics))
	}
}

func TestGetTopicMissing(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetTopic("http://example.com/absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionEdges(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	sub := model.Subscription{
		TopicURL:     "http://example.com/feed",
		CallbackURL:  "http://sub.example.com/cb",
		LeaseSeconds: 432000,
		CreatedAtNs:  now,
	}
	if err := repo.UpsertSubscription(sub); err != nil {
		t.Fatalf("upsert subscription: %v", err)
	}
	// Re-subscribing refreshes the lease without duplicating the edge.
	sub.LeaseSeconds = 600
	if err := repo.UpsertSubscription(sub); err != nil {
		t.Fatalf("re-upsert subscription: %v", err)
	}

	subs, err := repo.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	if subs[0].LeaseSeconds != 600 {
		t.Fatalf("lease = %d, want 600", subs[0].LeaseSeconds)
	}

	if err := repo.DeleteSubscription(sub.TopicURL, sub.CallbackURL); err != nil {
		t.Fatalf("delete subscription: %v", err)
	}
	// Deleting again is a no-op.
	if err := repo.DeleteSubscription(sub.TopicURL, sub.CallbackURL); err != nil {
		t.Fatalf("delete missing subscription: %v", err)
	}
	subs, err = repo.ListSubscriptions()
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("len(subs) = %d after delete, want 0", len(subs))
	}
}

func TestSubscriberAndListenerIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	s := model.Subscriber{CallbackURL: "http://sub.example.com/cb", CreatedAtNs: now}
	for i := 0; i < 2; i++ {
		if err := repo.UpsertSubscriber(s); err != nil {
			t.Fatalf("upsert subscriber: %v", err)
		}
	}
	subs, err := repo.ListSubscribers()
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subscribers) = %d, want 1", len(subs))
	}

	l := model.Listener{CallbackURL: "http://watch.example.com/cb", CreatedAtNs: now}
	for i := 0; i < 2; i++ {
		if err := repo.UpsertListener(l); err != nil {
			t.Fatalf("upsert listener: %v", err)
		}
	}
	listeners, err := repo.ListListeners()
	if err != nil {
		t.Fatalf("list listeners: %v", err)
	}
	if len(listeners) != 1 {
		t.Fatalf("len(listeners) = %d, want 1", len(listeners))
	}

	lt := model.ListenerTopic{CallbackURL: l.CallbackURL, TopicURL: "http://example.com/feed", NotifiedAtNs: now}
	for i := 0; i < 2; i++ {
		if err := repo.UpsertListenerTopic(lt); err != nil {
			t.Fatalf("upsert listener topic: %v", err)
		}
	}
	edges, err := repo.ListListenerTopics()
	if err != nil {
		t.Fatalf("list listener topics: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("len(listener_topics) = %d, want 1", len(edges))
	}
}

func TestQueueFIFO(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.EnqueueJob(model.NotifyJob{
			ID:           id,
			CallbackURL:  "http://sub.example.com/cb",
			Headers:      map[string]string{"Content-Type": "application/atom+xml"},
			Body:         []byte("<feed>" + id + "</feed>"),
			MaxTries:     10,
			EnqueuedAtNs: now,
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	n, err := repo.QueueLen()
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	if n != 3 {
		t.Fatalf("queue len = %d, want 3", n)
	}

	var order []string
	for i := 0; i < 3; i++ {
		j, err := repo.PullJob()
		if err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
		order = append(order, j.ID)
		if j.Headers["Content-Type"] != "application/atom+xml" {
			t.Fatalf("headers lost on round trip: %v", j.Headers)
		}
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("pull order = %v, want [a b c]", order)
	}

	if _, err := repo.PullJob(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pull from empty queue: err = %v, want ErrNotFound", err)
	}
}

func TestQueueSeqMonotonicAcrossRequeue(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UnixNano()

	seq1, err := repo.EnqueueJob(model.NotifyJob{ID: "x", CallbackURL: "http://s/cb", Body: []byte("b"), MaxTries: 2, EnqueuedAtNs: now})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	j, err := repo.PullJob()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	j.MaxTries--
	seq2, err := repo.EnqueueJob(*j)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("re-enqueued seq %d not after original %d", seq2, seq1)
	}
}
