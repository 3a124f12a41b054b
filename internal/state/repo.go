package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pushhub/pushhub/internal/model"
)

// HubRepo wraps state.db and provides transactional CRUD for the hub
// graph and the notify queue. All writes are serialized by an internal
// mutex.
type HubRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewHubRepo creates a HubRepo for the given state.db connection.
func NewHubRepo(db *sql.DB) *HubRepo {
	return &HubRepo{db: db}
}

// --- topics ---

// UpsertTopic inserts or updates a topic by URL.
func (r *HubRepo) UpsertTopic(t model.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO topics (url, content, content_type, fetched_at_ns, last_pinged_ns, changed, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			content        = excluded.content,
			content_type   = excluded.content_type,
			fetched_at_ns  = excluded.fetched_at_ns,
			last_pinged_ns = excluded.last_pinged_ns,
			changed        = excluded.changed,
			failed         = excluded.failed
	`, t.URL, t.Content, t.ContentType, t.FetchedAtNs, t.LastPingedNs, t.Changed, t.Failed)
	return err
}

// GetTopic returns a topic by URL, or ErrNotFound.
func (r *HubRepo) GetTopic(url string) (*model.Topic, error) {
	row := r.db.QueryRow(`SELECT url, content, content_type, fetched_at_ns, last_pinged_ns, changed, failed
		FROM topics WHERE url = ?`, url)
	var t model.Topic
	err := row.Scan(&t.URL, &t.Content, &t.ContentType, &t.FetchedAtNs, &t.LastPingedNs, &t.Changed, &t.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic: %w", err)
	}
	return &t, nil
}

// ListTopics returns all topics.
func (r *HubRepo) ListTopics() ([]model.Topic, error) {
	rows, err := r.db.Query(`SELECT url, content, content_type, fetched_at_ns, last_pinged_ns, changed, failed FROM topics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.URL, &t.Content, &t.ContentType, &t.FetchedAtNs,
			&t.LastPingedNs, &t.Changed, &t.Failed); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// --- subscribers / listeners ---

// UpsertSubscriber inserts a subscriber if absent. created_at_ns is
// preserved on conflict.
func (r *HubRepo) UpsertSubscriber(s model.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO subscribers (callback_url, created_at_ns)
		VALUES (?, ?)
		ON CONFLICT(callback_url) DO NOTHING
	`, s.CallbackURL, s.CreatedAtNs)
	return err
}

// ListSubscribers returns all subscribers.
func (r *HubRepo) ListSubscribers() ([]model.Subscriber, error) {
	rows, err := r.db.Query(`SELECT callback_url, created_at_ns FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Subscriber
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.CallbackURL, &s.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// UpsertListener inserts a listener if absent.
func (r *HubRepo) UpsertListener(l model.Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO listeners (callback_url, created_at_ns)
		VALUES (?, ?)
		ON CONFLICT(callback_url) DO NOTHING
	`, l.CallbackURL, l.CreatedAtNs)
	return err
}

// ListListeners returns all listeners.
func (r *HubRepo) ListListeners() ([]model.Listener, error) {
	rows, err := r.db.Query(`SELECT callback_url, created_at_ns FROM listeners`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Listener
	for rows.Next() {
		var l model.Listener
		if err := rows.Scan(&l.CallbackURL, &l.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// --- subscription edges ---

// UpsertSubscription records a (topic, subscriber) edge. Re-subscribing
// refreshes the lease but keeps created_at_ns.
func (r *HubRepo) UpsertSubscription(s model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO subscriptions (topic_url, callback_url, lease_seconds, created_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic_url, callback_url) DO UPDATE SET
			lease_seconds = excluded.lease_seconds
	`, s.TopicURL, s.CallbackURL, s.LeaseSeconds, s.CreatedAtNs)
	return err
}

// DeleteSubscription removes a (topic, subscriber) edge. Deleting a
// missing edge is not an error.
func (r *HubRepo) DeleteSubscription(topicURL, callbackURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`DELETE FROM subscriptions WHERE topic_url = ? AND callback_url = ?`,
		topicURL, callbackURL)
	return err
}

// ListSubscriptions returns all subscription edges.
func (r *HubRepo) ListSubscriptions() ([]model.Subscription, error) {
	rows, err := r.db.Query(`SELECT topic_url, callback_url, lease_seconds, created_at_ns FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(&s.TopicURL, &s.CallbackURL, &s.LeaseSeconds, &s.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// --- listener_topics edges ---

// UpsertListenerTopic records that a listener knows a topic.
func (r *HubRepo) UpsertListenerTopic(lt model.ListenerTopic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO listener_topics (callback_url, topic_url, notified_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(callback_url, topic_url) DO NOTHING
	`, lt.CallbackURL, lt.TopicURL, lt.NotifiedAtNs)
	return err
}

// ListListenerTopics returns all listener-topic edges.
func (r *HubRepo) ListListenerTopics() ([]model.ListenerTopic, error) {
	rows, err := r.db.Query(`SELECT callback_url, topic_url, notified_at_ns FROM listener_topics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ListenerTopic
	for rows.Next() {
		var lt model.ListenerTopic
		if err := rows.Scan(&lt.CallbackURL, &lt.TopicURL, &lt.NotifiedAtNs); err != nil {
			return nil, err
		}
		result = append(result, lt)
	}
	return result, rows.Err()
}

// --- notify queue ---

// EnqueueJob appends a job to the tail of the notify queue and returns
// its assigned sequence number.
func (r *HubRepo) EnqueueJob(j model.NotifyJob) (int64, error) {
	headers, err := json.Marshal(j.Headers)
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`
		INSERT INTO notify_queue (id, callback_url, headers_json, body, max_tries, enqueued_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
	`, j.ID, j.CallbackURL, string(headers), j.Body, j.MaxTries, j.EnqueuedAtNs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PullJob removes and returns the head of the queue, or ErrNotFound
// when the queue is empty. Single-consumer: the read and delete run in
// one transaction.
func (r *HubRepo) PullJob() (*model.NotifyJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT seq, id, callback_url, headers_json, body, max_tries, enqueued_at_ns
		FROM notify_queue ORDER BY seq LIMIT 1`)

	var j model.NotifyJob
	var headersJSON string
	err = row.Scan(&j.Seq, &j.ID, &j.CallbackURL, &headersJSON, &j.Body, &j.MaxTries, &j.EnqueuedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notify job: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &j.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM notify_queue WHERE seq = ?`, j.Seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &j, nil
}

// QueueLen returns the number of pending jobs.
func (r *HubRepo) QueueLen() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM notify_queue`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
