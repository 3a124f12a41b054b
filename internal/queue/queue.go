// Package queue persists subscriber notification jobs in state.db and
// drains them with bounded retries.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/pushhub/pushhub/internal/model"
	"github.com/pushhub/pushhub/internal/state"
	"github.com/pushhub/pushhub/internal/urlutil"
)

// ErrEmpty indicates the queue has no pending jobs.
var ErrEmpty = errors.New("queue: empty")

// DefaultMaxTries is the delivery attempt budget for new jobs.
const DefaultMaxTries = 10

// Queue is a durable FIFO of notification jobs backed by state.db.
type Queue struct {
	repo     *state.HubRepo
	maxTries int
}

// New creates a queue over the given repo. maxTries <= 0 selects
// DefaultMaxTries.
func New(repo *state.HubRepo, maxTries int) *Queue {
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}
	return &Queue{repo: repo, maxTries: maxTries}
}

// Enqueue appends a delivery job for the callback. Header names and
// values are checked against HTTP field grammar before anything is
// persisted; a job that could never be sent is rejected here rather
// than spinning in the worker.
func (q *Queue) Enqueue(callbackURL string, headers map[string]string, body []byte) error {
	if err := urlutil.Validate(callbackURL); err != nil {
		return err
	}
	for name, value := range headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("queue: invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("queue: invalid value for header %q", name)
		}
	}

	_, err := q.repo.EnqueueJob(model.NotifyJob{
		ID:           uuid.NewString(),
		CallbackURL:  callbackURL,
		Headers:      headers,
		Body:         body,
		MaxTries:     q.maxTries,
		EnqueuedAtNs: time.Now().UnixNano(),
	})
	return err
}

// Requeue puts a pulled job back at the tail, keeping its identity and
// remaining tries.
func (q *Queue) Requeue(j model.NotifyJob) error {
	_, err := q.repo.EnqueueJob(j)
	return err
}

// Pull removes and returns the oldest job, or ErrEmpty.
func (q *Queue) Pull() (*model.NotifyJob, error) {
	j, err := q.repo.PullJob()
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrEmpty
	}
	return j, err
}

// Len returns the number of pending jobs.
func (q *Queue) Len() (int, error) {
	return q.repo.QueueLen()
}
