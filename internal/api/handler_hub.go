package api

import (
	"net/http"
	"strconv"

	"github.com/pushhub/pushhub/internal/service"
)

// HandlePublish serves POST /publish: a publisher ping for one or more
// hub.url values.
func HandlePublish(svc *service.HubService) http.HandlerFunc {
	return RequireForm(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writePlain(w, http.StatusBadRequest, "malformed form body")
			return
		}

		mode := r.PostForm.Get("hub.mode")
		urls := r.PostForm["hub.url"]
		if err := svc.Publish(r.Context(), mode, urls); err != nil {
			writeProtocolError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleSubscribe serves POST /subscribe: subscribe and unsubscribe
// requests with synchronous intent verification.
func HandleSubscribe(svc *service.HubService) http.HandlerFunc {
	return RequireForm(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writePlain(w, http.StatusBadRequest, "malformed form body")
			return
		}

		req := service.SubscribeRequest{
			Mode:        r.PostForm.Get("hub.mode"),
			CallbackURL: r.PostForm.Get("hub.callback"),
			TopicURL:    r.PostForm.Get("hub.topic"),
			VerifyTypes: r.PostForm["hub.verify"],
		}
		if v := r.PostForm.Get("hub.lease_seconds"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writePlain(w, http.StatusBadRequest, "Invalid parameter: hub.lease_seconds; must be a positive integer")
				return
			}
			req.LeaseSeconds = n
		}

		if err := svc.Subscribe(r.Context(), req); err != nil {
			writeProtocolError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleListen serves POST /listen: registers a callback that is told
// about every topic the hub learns of.
func HandleListen(svc *service.HubService) http.HandlerFunc {
	return RequireForm(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writePlain(w, http.StatusBadRequest, "malformed form body")
			return
		}

		callback := r.PostForm.Get("listener.callback")
		if err := svc.RegisterListener(r.Context(), callback); err != nil {
			writeProtocolError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
