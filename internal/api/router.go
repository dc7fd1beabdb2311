package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revittco/electrumlink/internal/client"
	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/electrum"
	"github.com/revittco/electrumlink/internal/endpoint"
	"github.com/revittco/electrumlink/internal/events"
	"github.com/revittco/electrumlink/internal/store"
)

// Controller is the slice of *client.Client the API drives.
type Controller interface {
	Status() client.Status
	SetActive(active bool)
	ReplaceEndpoints(eps []endpoint.Endpoint) (bool, error)
}

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Events   store.EventStore
	Servers  *config.Service
	Client   Controller
	Caller   electrum.Caller     // optional; enables the call passthrough
	Cache    *electrum.Cache     // optional; adds result cache stats to status
	Bus      *events.Bus         // optional; enables the SSE event stream
	Gatherer prometheus.Gatherer // optional; enables /metrics
}

// NewRouter creates an http.Handler with all API routes.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthCheck)
	mux.HandleFunc("GET /api/v1/health", healthCheck)

	st := &statusHandler{client: deps.Client, cache: deps.Cache}
	mux.HandleFunc("GET /api/v1/status", st.get)
	mux.HandleFunc("POST /api/v1/pause", st.pause)
	mux.HandleFunc("POST /api/v1/resume", st.resume)

	srv := &serverHandler{svc: deps.Servers, client: deps.Client}
	mux.HandleFunc("GET /api/v1/servers", srv.list)
	mux.HandleFunc("PUT /api/v1/servers", srv.replace)

	ev := &eventHandler{store: deps.Events}
	mux.HandleFunc("GET /api/v1/events", ev.query)

	if deps.Caller != nil {
		ch := &callHandler{caller: deps.Caller}
		mux.HandleFunc("POST /api/v1/call", ch.call)
	}

	if deps.Bus != nil {
		sse := &eventSSEHandler{bus: deps.Bus}
		mux.HandleFunc("GET /api/v1/events/stream", sse.stream)
	}

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Apply middleware chain: security -> CORS -> origin -> content type ->
	// RequestID -> Logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = requireJSONContentTypeMiddleware(handler)
	handler = browserOriginProtectionMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = securityHeadersMiddleware(handler)

	return handler
}
