package service

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/pushhub/pushhub/internal/feed"
	"github.com/pushhub/pushhub/internal/hub"
	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/queue"
	"github.com/pushhub/pushhub/internal/state"
)

const testFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Feed</title>
  <link href="http://example.com/"/>
  <link rel="self" href="http://example.com/feed"/>
  <updated>2026-01-01T00:00:00Z</updated>
  <author><name>Jo Author</name></author>
  <id>urn:example:feed</id>
  <entry>
    <title>First</title>
    <link href="http://example.com/1"/>
    <id>urn:example:1</id>
    <updated>2026-01-01T00:00:00Z</updated>
  </entry>
</feed>`

// scriptedClient echoes verification challenges, serves testFeed for
// feed URLs, and accepts listener announcements.
type scriptedClient struct {
	gets []string
}

func (c *scriptedClient) Get(_ context.Context, target string, _ http.Header) (*netutil.Response, error) {
	c.gets = append(c.gets, target)
	u, err := url.Parse(target)
	if err != nil {
		return nil, &netutil.NonRetryableError{Err: err}
	}
	if challenge := u.Query().Get("hub.challenge"); challenge != "" {
		return &netutil.Response{StatusCode: 200, Body: []byte(challenge)}, nil
	}
	if u.Query().Get("topic") != "" {
		return &netutil.Response{StatusCode: 200, Body: []byte("ok")}, nil
	}
	return &netutil.Response{StatusCode: 200, Body: []byte(testFeed)}, nil
}

func (c *scriptedClient) Post(_ context.Context, _ string, _ []byte, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 204}, nil
}

func (c *scriptedClient) PostForm(_ context.Context, _ string, _ url.Values, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 204}, nil
}

func newTestService(t *testing.T) (*HubService, *scriptedClient, *state.HubRepo) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := state.NewHubRepo(db)
	client := &scriptedClient{}
	q := queue.New(repo, 0)
	h := hub.New("http://hub.example.com", client, feed.NewParseCache(16), q)
	return NewHubService(h, repo), client, repo
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	se, ok := err.(*ServiceError)
	if !ok {
		t.Fatalf("err = %v (%T), want *ServiceError", err, err)
	}
	return se.Code
}

func TestPublishValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		mode string
		urls []string
	}{
		{"wrong mode", "subscribe", []string{"http://example.com/feed"}},
		{"empty mode", "", []string{"http://example.com/feed"}},
		{"no urls", "publish", nil},
		{"malformed url", "publish", []string{"not a url"}},
		{"pathless url", "publish", []string{"http://example.com"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := svc.Publish(ctx, c.mode, c.urls)
			if code := serviceCode(t, err); code != "INVALID_ARGUMENT" {
				t.Fatalf("code = %s, want INVALID_ARGUMENT", code)
			}
		})
	}
	if svc.Hub.TopicCount() != 0 {
		t.Fatalf("topic count = %d after rejected publishes, want 0", svc.Hub.TopicCount())
	}
}

func TestPublishFetchesAndPersists(t *testing.T) {
	svc, _, repo := newTestService(t)

	if err := svc.Publish(context.Background(), "publish", []string{"http://example.com/feed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	persisted, err := repo.GetTopic("http://example.com/feed")
	if err != nil {
		t.Fatalf("persisted topic: %v", err)
	}
	if string(persisted.Content) != testFeed {
		t.Fatal("persisted topic missing fetched content")
	}
	if persisted.ContentType != "atom10" {
		t.Fatalf("content type = %q", persisted.ContentType)
	}
	if !persisted.Changed {
		t.Fatal("first fetch should leave topic changed until a subscriber exists")
	}
}

func TestPublishUnfetchableTopicStillAccepted(t *testing.T) {
	svc, _, repo := newTestService(t)

	// The scripted client serves a feed for any URL, so point the
	// hub at a topic whose body will not parse.
	db, err := state.Open(filepath.Join(t.TempDir(), "state2.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	_ = repo

	badClient := &badFeedClient{}
	repo2 := state.NewHubRepo(db)
	svc = NewHubService(hub.New("http://hub.example.com", badClient, feed.NewParseCache(16), queue.New(repo2, 0)), repo2)

	if err := svc.Publish(context.Background(), "publish", []string{"http://example.com/feed"}); err != nil {
		t.Fatalf("publish of unfetchable topic: %v", err)
	}
	if svc.Hub.TopicCount() != 1 {
		t.Fatal("ping was not recorded for unfetchable topic")
	}
}

type badFeedClient struct{}

func (c *badFeedClient) Get(_ context.Context, _ string, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 200, Body: []byte("not a feed")}, nil
}

func (c *badFeedClient) Post(_ context.Context, _ string, _ []byte, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 204}, nil
}

func (c *badFeedClient) PostForm(_ context.Context, _ string, _ url.Values, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 204}, nil
}

func TestSubscribeValidationAndPersistence(t *testing.T) {
	svc, _, repo := newTestService(t)
	ctx := context.Background()

	base := SubscribeRequest{
		Mode:        "subscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/feed",
		VerifyTypes: []string{"sync"},
	}

	bad := base
	bad.CallbackURL = "nope"
	if code := serviceCode(t, svc.Subscribe(ctx, bad)); code != "INVALID_ARGUMENT" {
		t.Fatalf("bad callback code = %s", code)
	}

	bad = base
	bad.TopicURL = "http://example.com"
	if code := serviceCode(t, svc.Subscribe(ctx, bad)); code != "INVALID_ARGUMENT" {
		t.Fatalf("pathless topic code = %s", code)
	}

	bad = base
	bad.Mode = "renew"
	if code := serviceCode(t, svc.Subscribe(ctx, bad)); code != "INVALID_ARGUMENT" {
		t.Fatalf("bad mode code = %s", code)
	}

	bad = base
	bad.VerifyTypes = []string{"psychic"}
	if code := serviceCode(t, svc.Subscribe(ctx, bad)); code != "INVALID_ARGUMENT" {
		t.Fatalf("bad verify code = %s", code)
	}

	bad = base
	bad.VerifyTypes = []string{"async"}
	if code := serviceCode(t, svc.Subscribe(ctx, bad)); code != "INVALID_ARGUMENT" {
		t.Fatalf("async-only code = %s", code)
	}

	if err := svc.Subscribe(ctx, base); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs, err := repo.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subscriptions) = %d, want 1", len(subs))
	}
	if subs[0].LeaseSeconds != DefaultLeaseSeconds {
		t.Fatalf("lease = %d, want default %d", subs[0].LeaseSeconds, DefaultLeaseSeconds)
	}
}

func TestSubscribeUnverifiedConflicts(t *testing.T) {
	svc, _, repo := newTestService(t)

	db, err := state.Open(filepath.Join(t.TempDir(), "state2.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	_ = repo

	repo2 := state.NewHubRepo(db)
	decliner := &decliningClient{}
	svc = NewHubService(hub.New("http://hub.example.com", decliner, feed.NewParseCache(16), queue.New(repo2, 0)), repo2)

	err = svc.Subscribe(context.Background(), SubscribeRequest{
		Mode:        "subscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/feed",
		VerifyTypes: []string{"sync"},
	})
	if code := serviceCode(t, err); code != "CONFLICT" {
		t.Fatalf("code = %s, want CONFLICT", code)
	}
	subs, _ := repo2.ListSubscriptions()
	if len(subs) != 0 {
		t.Fatalf("unverified subscription persisted: %v", subs)
	}
}

type decliningClient struct{}

func (c *decliningClient) Get(_ context.Context, _ string, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 404, Body: []byte("no")}, nil
}

func (c *decliningClient) Post(_ context.Context, _ string, _ []byte, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 404}, nil
}

func (c *decliningClient) PostForm(_ context.Context, _ string, _ url.Values, _ http.Header) (*netutil.Response, error) {
	return &netutil.Response{StatusCode: 404}, nil
}

func TestUnsubscribeUnknownTopicIsVerifiedAndTolerated(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Subscribe(context.Background(), SubscribeRequest{
		Mode:        "unsubscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/never-seen",
		VerifyTypes: []string{"sync"},
	})
	if err != nil {
		t.Fatalf("unsubscribe never-seen topic: %v", err)
	}
	if _, err := svc.Hub.Topic("http://example.com/never-seen"); err != nil {
		t.Fatal("unsubscribe did not upsert the topic")
	}
}

func TestRegisterListenerAnnouncesExistingTopics(t *testing.T) {
	svc, client, repo := newTestService(t)
	ctx := context.Background()

	if err := svc.Publish(ctx, "publish", []string{"http://example.com/feed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.RegisterListener(ctx, "http://watch.example.com/new"); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	announced := false
	for _, target := range client.gets {
		u, err := url.Parse(target)
		if err != nil {
			continue
		}
		if u.Host == "watch.example.com" && u.Query().Get("topic") == "http://example.com/feed" {
			announced = true
		}
	}
	if !announced {
		t.Fatal("existing topic was not announced to new listener")
	}

	edges, err := repo.ListListenerTopics()
	if err != nil {
		t.Fatalf("list edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("len(listener_topics) = %d, want 1", len(edges))
	}

	if code := serviceCode(t, svc.RegisterListener(ctx, "")); code != "INVALID_ARGUMENT" {
		t.Fatalf("empty callback code = %s", code)
	}
}

func TestLoadStateRebuildsRegistries(t *testing.T) {
	svc, client, repo := newTestService(t)
	ctx := context.Background()

	if err := svc.Publish(ctx, "publish", []string{"http://example.com/feed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Subscribe(ctx, SubscribeRequest{
		Mode:        "subscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/feed",
		VerifyTypes: []string{"sync"},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := svc.RegisterListener(ctx, "http://watch.example.com/new"); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	// A fresh process over the same state.db.
	restored := NewHubService(hub.New("http://hub.example.com", client, feed.NewParseCache(16), queue.New(repo, 0)), repo)
	if err := restored.LoadState(); err != nil {
		t.Fatalf("load state: %v", err)
	}

	topic, err := restored.Hub.Topic("http://example.com/feed")
	if err != nil {
		t.Fatalf("restored topic: %v", err)
	}
	if topic.SubscriberCount() != 1 {
		t.Fatalf("restored subscriber count = %d, want 1", topic.SubscriberCount())
	}
	snap := topic.Snapshot()
	if string(snap.Content) != testFeed {
		t.Fatal("restored topic lost content")
	}

	listeners := restored.Hub.Listeners()
	if len(listeners) != 1 {
		t.Fatalf("restored %d listeners, want 1", len(listeners))
	}
	if !listeners[0].Knows("http://example.com/feed") {
		t.Fatal("restored listener forgot announced topic")
	}

	// No repeat announcement after restore.
	before := len(client.gets)
	restored.notifyListeners(ctx, "http://example.com/feed")
	if len(client.gets) != before {
		t.Fatal("restored listener was re-announced a known topic")
	}
}

func TestAdminListings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	urls := []string{"http://example.com/b", "http://example.com/a", "http://example.com/c"}
	if err := svc.Publish(ctx, "publish", urls); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Subscribe(ctx, SubscribeRequest{
		Mode:        "subscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/a",
		VerifyTypes: []string{"sync"},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	topics := svc.ListTopics(0, 0)
	if len(topics) != 3 {
		t.Fatalf("len(topics) = %d, want 3", len(topics))
	}
	if topics[0].URL != "http://example.com/a" {
		t.Fatalf("topics not sorted: first = %s", topics[0].URL)
	}
	if topics[0].Subscribers != 1 {
		t.Fatalf("subscriber count = %d, want 1", topics[0].Subscribers)
	}

	page := svc.ListTopics(2, 1)
	if len(page) != 2 || page[0].URL != "http://example.com/b" {
		t.Fatalf("pagination wrong: %+v", page)
	}

	subs := svc.ListSubscribers(0, 0)
	if len(subs) != 1 || len(subs[0].Topics) != 1 || subs[0].Topics[0] != "http://example.com/a" {
		t.Fatalf("subscribers = %+v", subs)
	}
}

// orderedQueue records, for each enqueued job, whether a listener
// announcement had already gone out on the shared client.
type orderedQueue struct {
	client      *scriptedClient
	announcedAt []bool
}

func (q *orderedQueue) Enqueue(_ string, _ map[string]string, _ []byte) error {
	announced := false
	for _, target := range q.client.gets {
		u, err := url.Parse(target)
		if err != nil {
			continue
		}
		if u.Query().Get("topic") != "" {
			announced = true
		}
	}
	q.announcedAt = append(q.announcedAt, announced)
	return nil
}

func TestPublishAnnouncesListenersBeforeSubscriberJobs(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	defer db.Close()

	repo := state.NewHubRepo(db)
	client := &scriptedClient{}
	q := &orderedQueue{client: client}
	svc := NewHubService(hub.New("http://hub.example.com", client, feed.NewParseCache(16), q), repo)
	ctx := context.Background()

	if err := svc.RegisterListener(ctx, "http://watch.example.com/new"); err != nil {
		t.Fatalf("register listener: %v", err)
	}
	if err := svc.Subscribe(ctx, SubscribeRequest{
		Mode:        "subscribe",
		CallbackURL: "http://sub.example.com/cb",
		TopicURL:    "http://example.com/feed",
		VerifyTypes: []string{"sync"},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := svc.Publish(ctx, "publish", []string{"http://example.com/feed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(q.announcedAt) == 0 {
		t.Fatal("no subscriber jobs enqueued")
	}
	for i, announced := range q.announcedAt {
		if !announced {
			t.Fatalf("job %d enqueued before the listener announcement", i)
		}
	}
}
