// Package httpapi exposes the canvas service as JSON over HTTP.
//
// Identity comes from the X-User-ID header, set by an authenticating proxy
// in front of the server. Requests without it reach the service with an
// empty owner and are rejected there.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/canvas"
	"github.com/mesh-intelligence/easel/internal/metrics"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Options configures the router.
type Options struct {
	// AllowedOrigins lists CORS origins. Empty disables CORS headers.
	AllowedOrigins []string

	// Ping reports backend health for /healthz. Nil always reports healthy.
	Ping func(ctx context.Context) error
}

type server struct {
	svc  *canvas.Service
	ping func(ctx context.Context) error
}

// NewRouter returns the HTTP handler for svc.
func NewRouter(svc *canvas.Service, opts Options) http.Handler {
	s := &server{svc: svc, ping: opts.Ping}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", UserHeader, "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/canvases", func(r chi.Router) {
			r.Get("/", s.listCanvases)
			r.Post("/", s.createDefaultCanvas)
			r.Route("/{canvasID}", func(r chi.Router) {
				r.Get("/", s.getCanvas)
				r.Delete("/", s.deleteCanvas)
				r.Post("/save", s.saveCanvas)
				r.Post("/resync", s.resyncCanvas)
				r.Get("/metadata", s.getMetadata)

				r.Post("/nodes", s.addNode)
				r.Patch("/nodes/{nodeID}", s.updateNode)
				r.Delete("/nodes/{nodeID}", s.removeNode)
				r.Put("/nodes/{nodeID}/messages", s.updateNodeMessages)

				r.Get("/backups", s.listBackups)
				r.Post("/backups", s.createBackup)
				r.Post("/backups/{backupID}/restore", s.restoreBackup)

				r.Get("/threads", s.listThreads)
				r.Post("/threads", s.createThread)
			})
		})

		r.Get("/backups/{backupID}", s.getBackup)
		r.Post("/backups/prune", s.pruneBackups)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.updateSettings)

		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Delete("/", s.deleteThread)
			r.Get("/checkpoints", s.listCheckpoints)
			r.Post("/checkpoints", s.createCheckpoint)
			r.Get("/checkpoints/{checkpointID}", s.getCheckpoint)
		})
	})
	return r
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("bytes", size).
		Dur("duration", d).
		Str("request_id", chimiddleware.GetReqID(r.Context())).
		Msg("http: request")
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
