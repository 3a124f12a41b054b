package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/pushhub/pushhub/internal/service"
)

// Server wraps the HTTP server and mux for the hub.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an API server wired with all routes.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	systemInfo SystemInfo,
	svc *service.HubService,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Protocol endpoints. No auth: publishers and subscribers are
	// strangers to the hub until they speak.
	mux.Handle("/publish", RequestBodyLimitMiddleware(apiMaxBodyBytes, HandlePublish(svc)))
	mux.Handle("/subscribe", RequestBodyLimitMiddleware(apiMaxBodyBytes, HandleSubscribe(svc)))
	mux.Handle("/listen", RequestBodyLimitMiddleware(apiMaxBodyBytes, HandleListen(svc)))

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated admin routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(systemInfo))
	authed.Handle("GET /api/v1/topics", HandleListTopics(svc))
	authed.Handle("GET /api/v1/subscribers", HandleListSubscribers(svc))
	authed.Handle("GET /api/v1/listeners", HandleListListeners(svc))
	authed.Handle("POST /api/v1/actions/fetch-all", HandleFetchAll(svc))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
