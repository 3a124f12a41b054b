package queue

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/pushhub/pushhub/internal/netutil"
)

// Result tallies delivery outcomes for one callback.
type Result struct {
	Delivered int
	Requeued  int
	Dropped   int
}

// Report maps callback URLs to their delivery outcomes for one drain.
type Report map[string]*Result

// Worker drains the queue, POSTing each job's content to its callback
// inside a form field named "feed". Jobs store the content raw; the
// form wrapping happens at delivery time.
type Worker struct {
	queue  *Queue
	client netutil.Client
}

// NewWorker creates a worker over the given queue and HTTP client.
func NewWorker(q *Queue, client netutil.Client) *Worker {
	return &Worker{queue: q, client: client}
}

// Drain pulls jobs until the queue is empty or ctx is cancelled. A job
// whose callback answers non-2xx is put back at the tail with one try
// fewer; a job with no tries left is dropped. The pass over a job that
// was requeued in the same drain happens within the same call, so a
// callback that stays down burns through its budget here rather than
// lingering.
func (w *Worker) Drain(ctx context.Context) (Report, error) {
	report := Report{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		job, err := w.queue.Pull()
		if errors.Is(err, ErrEmpty) {
			return report, nil
		}
		if err != nil {
			return report, err
		}

		result := report[job.CallbackURL]
		if result == nil {
			result = &Result{}
			report[job.CallbackURL] = result
		}

		if job.MaxTries <= 0 {
			log.Printf("[worker] dropping job %s for %s: no tries left", job.ID, job.CallbackURL)
			result.Dropped++
			continue
		}

		header := make(http.Header, len(job.Headers))
		for name, value := range job.Headers {
			header.Set(name, value)
		}
		form := url.Values{"feed": {string(job.Body)}}
		resp, err := w.client.Post(ctx, job.CallbackURL, []byte(form.Encode()), header)
		if err == nil && resp.OK() {
			result.Delivered++
			continue
		}

		var nonRetryable *netutil.NonRetryableError
		if errors.As(err, &nonRetryable) {
			log.Printf("[worker] dropping job %s for %s: %v", job.ID, job.CallbackURL, err)
			result.Dropped++
			continue
		}

		if err != nil {
			log.Printf("[worker] delivery of job %s to %s failed: %v", job.ID, job.CallbackURL, err)
		} else {
			log.Printf("[worker] delivery of job %s to %s failed: status %d", job.ID, job.CallbackURL, resp.StatusCode)
		}
		job.MaxTries--
		if err := w.queue.Requeue(*job); err != nil {
			return report, err
		}
		result.Requeued++
	}
}
