// Package service holds the business logic behind the API handlers:
// parameter validation, hub orchestration, and persistence.
package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/pushhub/pushhub/internal/hub"
	"github.com/pushhub/pushhub/internal/model"
	"github.com/pushhub/pushhub/internal/state"
	"github.com/pushhub/pushhub/internal/urlutil"
)

// DefaultLeaseSeconds is the subscription lease applied when the
// subscriber does not ask for one. Five days.
const DefaultLeaseSeconds = 5 * 24 * 60 * 60

// HubService orchestrates the hub engine and persists its state
// transitions. Handlers call its methods; business logic lives here,
// not in handlers.
type HubService struct {
	Hub  *hub.Hub
	Repo *state.HubRepo

	// VerifyTimeout caps each subscription verification exchange.
	// Zero means the outbound client's default applies.
	VerifyTimeout time.Duration

	// DefaultLease is applied when a subscriber requests no lease.
	// Zero selects DefaultLeaseSeconds.
	DefaultLease int

	// sweeping guards against overlapping background content sweeps.
	sweeping atomic.Bool
}

// NewHubService creates a HubService over the given engine and repo.
func NewHubService(h *hub.Hub, repo *state.HubRepo) *HubService {
	return &HubService{Hub: h, Repo: repo}
}

// LoadState rebuilds the hub's runtime registries from state.db.
func (s *HubService) LoadState() error {
	topics, err := s.Repo.ListTopics()
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	for _, t := range topics {
		if _, err := s.Hub.RestoreTopic(hub.Snapshot{
			URL:         t.URL,
			Content:     t.Content,
			ContentType: t.ContentType,
			FetchedAt:   nsTime(t.FetchedAtNs),
			LastPinged:  nsTime(t.LastPingedNs),
			Changed:     t.Changed,
			Failed:      t.Failed,
		}); err != nil {
			log.Printf("[service] skipping persisted topic %s: %v", t.URL, err)
		}
	}

	subscribers, err := s.Repo.ListSubscribers()
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	for _, sub := range subscribers {
		if _, err := s.Hub.RestoreSubscriber(sub.CallbackURL, nsTime(sub.CreatedAtNs)); err != nil {
			log.Printf("[service] skipping persisted subscriber %s: %v", sub.CallbackURL, err)
		}
	}

	subscriptions, err := s.Repo.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, edge := range subscriptions {
		topic, err := s.Hub.Topic(edge.TopicURL)
		if err != nil {
			log.Printf("[service] subscription for unknown topic %s", edge.TopicURL)
			continue
		}
		sub, err := s.Hub.Subscriber(edge.CallbackURL)
		if err != nil {
			log.Printf("[service] subscription for unknown subscriber %s", edge.CallbackURL)
			continue
		}
		topic.AddSubscriber(sub)
	}

	listeners, err := s.Repo.ListListeners()
	if err != nil {
		return fmt.Errorf("load listeners: %w", err)
	}
	for _, l := range listeners {
		if _, err := s.Hub.RestoreListener(l.CallbackURL, nsTime(l.CreatedAtNs)); err != nil {
			log.Printf("[service] skipping persisted listener %s: %v", l.CallbackURL, err)
		}
	}

	edges, err := s.Repo.ListListenerTopics()
	if err != nil {
		return fmt.Errorf("load listener topics: %w", err)
	}
	for _, edge := range edges {
		for _, l := range s.Hub.Listeners() {
			if l.CallbackURL == edge.CallbackURL {
				l.MarkNotified(edge.TopicURL, nsTime(edge.NotifiedAtNs))
			}
		}
	}
	return nil
}

// Publish records publisher pings for the given topic URLs, announces
// new topics to listeners, then fetches their content and fans changed
// content out to subscribers. A full sweep of all tracked topics
// follows; unchanged topics short-circuit on their content hash, so
// the sweep mostly costs one conditional fetch per topic.
func (s *HubService) Publish(ctx context.Context, mode string, topicURLs []string) error {
	if mode != "publish" {
		return invalidArg("Invalid or unspecified mode.")
	}
	if len(topicURLs) == 0 {
		return invalidArg("No topic URLs provided")
	}
	for _, raw := range topicURLs {
		if !urlutil.IsValid(raw) || !urlutil.HasPath(raw) {
			return invalidArg(fmt.Sprintf("Malformed URL: %s", raw))
		}
	}

	pinged, _, err := s.Hub.Publish(topicURLs)
	if err != nil {
		return invalidArg(err.Error())
	}

	for _, topic := range pinged {
		// Listeners hear about the topic before any subscriber jobs
		// from its fetch hit the queue.
		s.notifyListeners(ctx, topic.URL)
		if err := s.Hub.FetchTopic(ctx, topic); err != nil {
			// Bad content is the publisher's problem, not a
			// request failure. The ping itself stands.
			log.Printf("[service] fetch %s: %v", topic.URL, err)
		}
		s.persistTopic(topic)
	}

	s.Sweep(ctx)
	return nil
}

// SubscribeRequest is a parsed subscription form.
type SubscribeRequest struct {
	Mode         string
	CallbackURL  string
	TopicURL     string
	VerifyTypes  []string
	LeaseSeconds int
}

// Subscribe processes a subscribe or unsubscribe request, verifying
// intent with the callback synchronously. Unverified intent maps to
// CONFLICT; async-only verification requests are rejected.
func (s *HubService) Subscribe(ctx context.Context, req SubscribeRequest) error {
	if req.CallbackURL == "" || !urlutil.IsValid(req.CallbackURL) {
		return invalidArg("Invalid parameter: hub.callback; must be valid URI with no fragment and optional port")
	}
	if req.TopicURL == "" || !urlutil.IsValid(req.TopicURL) || !urlutil.HasPath(req.TopicURL) {
		return invalidArg("Invalid parameter: hub.topic; must be valid URI with no fragment and optional port")
	}
	if req.Mode != "subscribe" && req.Mode != "unsubscribe" {
		return invalidArg(fmt.Sprintf("Invalid parameter: hub.mode; supported values are \"subscribe\", \"unsubscribe\", given: %s", req.Mode))
	}
	sync := false
	valid := false
	for _, v := range req.VerifyTypes {
		switch v {
		case "sync":
			sync = true
			valid = true
		case "async":
			valid = true
		}
	}
	if !valid {
		return invalidArg(fmt.Sprintf("Invalid values for hub.verify: %v", req.VerifyTypes))
	}
	if !sync {
		return invalidArg("async verification currently not supported")
	}

	callback := urlutil.NormalizeIRI(req.CallbackURL)
	topicURL := urlutil.NormalizeIRI(req.TopicURL)
	lease := req.LeaseSeconds
	if lease <= 0 {
		lease = s.DefaultLease
	}
	if lease <= 0 {
		lease = DefaultLeaseSeconds
	}

	if s.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.VerifyTimeout)
		defer cancel()
	}

	if req.Mode == "subscribe" {
		verified, err := s.Hub.Subscribe(ctx, callback, topicURL)
		if err != nil {
			return internal("subscription failed", err)
		}
		if !verified {
			return conflict("Subscription intent not verified")
		}
		now := time.Now().UnixNano()
		if err := s.Repo.UpsertSubscriber(model.Subscriber{CallbackURL: callback, CreatedAtNs: now}); err != nil {
			return internal("persist subscriber", err)
		}
		if err := s.Repo.UpsertSubscription(model.Subscription{
			TopicURL:     topicURL,
			CallbackURL:  callback,
			LeaseSeconds: int64(lease),
			CreatedAtNs:  now,
		}); err != nil {
			return internal("persist subscription", err)
		}
		if topic, err := s.Hub.Topic(topicURL); err == nil {
			s.persistTopic(topic)
		}
		return nil
	}

	verified, err := s.Hub.Unsubscribe(ctx, callback, topicURL)
	if err != nil {
		return internal("unsubscription failed", err)
	}
	if !verified {
		return conflict("Subscription intent not verified")
	}
	if err := s.Repo.DeleteSubscription(topicURL, callback); err != nil {
		return internal("remove subscription", err)
	}
	if topic, err := s.Hub.Topic(topicURL); err == nil {
		s.persistTopic(topic)
	}
	return nil
}

// ApplySeed registers topics and listeners from a seed file, before
// any publisher has pinged. Invalid entries are logged and skipped;
// a seed file should not keep the hub from starting.
func (s *HubService) ApplySeed(ctx context.Context, topics, listeners []string) {
	for _, topicURL := range topics {
		topic, _, err := s.Hub.GetOrCreateTopic(topicURL)
		if err != nil {
			log.Printf("[service] seed topic %s: %v", topicURL, err)
			continue
		}
		s.persistTopic(topic)
	}
	for _, callbackURL := range listeners {
		if err := s.RegisterListener(ctx, callbackURL); err != nil {
			log.Printf("[service] seed listener %s: %v", callbackURL, err)
		}
	}
}

// RegisterListener adds a listener callback and announces every topic
// the hub already tracks to it.
func (s *HubService) RegisterListener(ctx context.Context, callbackURL string) error {
	if callbackURL == "" || !urlutil.IsValid(callbackURL) {
		return invalidArg(fmt.Sprintf("Malformed URL: %s", callbackURL))
	}

	listener, _, err := s.Hub.RegisterListener(callbackURL)
	if err != nil {
		return invalidArg(fmt.Sprintf("Malformed URL: %s", callbackURL))
	}
	if err := s.Repo.UpsertListener(model.Listener{
		CallbackURL: listener.CallbackURL,
		CreatedAtNs: listener.CreatedAt.UnixNano(),
	}); err != nil {
		return internal("persist listener", err)
	}

	for _, topic := range s.Hub.Topics() {
		s.notifyListeners(ctx, topic.URL)
	}
	return nil
}

// SweepResult summarizes one pass over the tracked topics.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Failed  int `json:"failed"`
}

// FetchAll refreshes every tracked topic, or only previously failed
// ones, and fans out changes. Per-topic failures are logged and do not
// stop the sweep.
func (s *HubService) FetchAll(ctx context.Context, onlyFailed bool) SweepResult {
	var result SweepResult
	for _, topic := range s.Hub.Topics() {
		if onlyFailed && !topic.Failed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result
		}
		result.Scanned++
		if err := s.Hub.FetchTopic(ctx, topic); err != nil {
			log.Printf("[service] fetch %s: %v", topic.URL, err)
		}
		if topic.Failed() {
			result.Failed++
		}
		s.persistTopic(topic)
	}
	return result
}

// Sweep runs FetchAll over every topic unless a sweep is already in
// flight.
func (s *HubService) Sweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer s.sweeping.Store(false)
	s.FetchAll(ctx, false)
}

// notifyListeners announces a topic to listeners that have not heard of
// it and persists the delivered announcements.
func (s *HubService) notifyListeners(ctx context.Context, topicURL string) {
	for _, sent := range s.Hub.NotifyListeners(ctx, topicURL) {
		if err := s.Repo.UpsertListenerTopic(model.ListenerTopic{
			CallbackURL:  sent.CallbackURL,
			TopicURL:     sent.TopicURL,
			NotifiedAtNs: sent.At.UnixNano(),
		}); err != nil {
			log.Printf("[service] persist listener notification for %s: %v", sent.CallbackURL, err)
		}
	}
}

// persistTopic writes a topic snapshot to state.db.
func (s *HubService) persistTopic(t *hub.Topic) {
	snap := t.Snapshot()
	if err := s.Repo.UpsertTopic(model.Topic{
		URL:          snap.URL,
		Content:      snap.Content,
		ContentType:  snap.ContentType,
		FetchedAtNs:  timeNs(snap.FetchedAt),
		LastPingedNs: timeNs(snap.LastPinged),
		Changed:      snap.Changed,
		Failed:       snap.Failed,
	}); err != nil {
		log.Printf("[service] persist topic %s: %v", snap.URL, err)
	}
}

func nsTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func timeNs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
