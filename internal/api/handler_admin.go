package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pushhub/pushhub/internal/service"
)

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleFetchAll returns a handler for POST
// /api/v1/actions/fetch-all. The optional only_failed query parameter
// restricts the sweep to topics whose last fetch could not reach the
// feed.
func HandleFetchAll(svc *service.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		onlyFailed := false
		if v := r.URL.Query().Get("only_failed"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeInvalidArgument(w, "only_failed: must be true or false")
				return
			}
			onlyFailed = b
		}
		WriteJSON(w, http.StatusOK, svc.FetchAll(r.Context(), onlyFailed))
	}
}

// HandleListTopics returns a handler for GET /api/v1/topics.
func HandleListTopics(svc *service.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WritePage(w, http.StatusOK, svc.ListTopics(0, 0), p)
	}
}

// HandleListSubscribers returns a handler for GET /api/v1/subscribers.
func HandleListSubscribers(svc *service.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WritePage(w, http.StatusOK, svc.ListSubscribers(0, 0), p)
	}
}

// HandleListListeners returns a handler for GET /api/v1/listeners.
func HandleListListeners(svc *service.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WritePage(w, http.StatusOK, svc.ListListeners(0, 0), p)
	}
}
