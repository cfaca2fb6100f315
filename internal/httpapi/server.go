// Package httpapi exposes the session broker over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/persona"
	"github.com/lexiqai/avatar-gateway/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Catalogs lists the provider's avatars, voices and contexts.
type Catalogs interface {
	ListPublicAvatars(ctx context.Context) (*liveavatar.Catalog, error)
	ListUserAvatars(ctx context.Context) (*liveavatar.Catalog, error)
	ListVoices(ctx context.Context, voiceType string) (*liveavatar.Catalog, error)
	ListContexts(ctx context.Context) (*liveavatar.Catalog, error)
}

// Sessions runs the session lifecycle.
type Sessions interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (*session.CreateResult, error)
	KeepAlive(ctx context.Context, sessionID string) (json.RawMessage, error)
	Speak(ctx context.Context, req session.SpeakRequest) (*session.SpeakResult, error)
	Stop(ctx context.Context, sessionID, reason string) (json.RawMessage, error)
}

// Replier generates the avatar's answer to user text.
type Replier interface {
	Reply(ctx context.Context, system, userText string) (string, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Catalogs       Catalogs
	Sessions       Sessions
	Events         http.Handler // browser data-channel relay
	Personas       *persona.Catalog
	Replier        Replier
	Readiness      []observability.HealthCheck
	MetricsEnabled bool
	AllowAnyOrigin bool
}

type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Personas == nil {
		deps.Personas = persona.NewCatalog(nil)
	}
	return &Server{deps: deps}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withCorrelation)
	if s.deps.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(s.deps.Readiness...))
	if s.deps.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/liveavatar", func(r chi.Router) {
		r.Get("/avatars/public", s.handleCatalog("avatars", "Failed to list public avatars", func(r *http.Request) (*liveavatar.Catalog, error) {
			return s.deps.Catalogs.ListPublicAvatars(r.Context())
		}))
		r.Get("/avatars/user", s.handleCatalog("avatars", "Failed to list user avatars", func(r *http.Request) (*liveavatar.Catalog, error) {
			return s.deps.Catalogs.ListUserAvatars(r.Context())
		}))
		r.Get("/voices", s.handleCatalog("voices", "Failed to list voices", func(r *http.Request) (*liveavatar.Catalog, error) {
			return s.deps.Catalogs.ListVoices(r.Context(), r.URL.Query().Get("voice_type"))
		}))
		r.Get("/contexts", s.handleCatalog("contexts", "Failed to list contexts", func(r *http.Request) (*liveavatar.Catalog, error) {
			return s.deps.Catalogs.ListContexts(r.Context())
		}))

		r.Post("/new-session", s.handleNewSession)
		r.Post("/keepalive", s.handleKeepAlive)
		r.Post("/stop", s.handleStop)
		r.Post("/speak", s.handleSpeak)
		if s.deps.Events != nil {
			r.Get("/events", s.deps.Events.ServeHTTP)
		}
	})

	r.Post("/reply", s.handleReply)
	r.Get("/persona", s.handleGetPersona)
	r.Post("/persona", s.handleSetPersona)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, envelope{Error: &errorBody{Message: "Not found"}})
	})
	return r
}

// withCorrelation tags each request with a correlation id and a scoped
// logger, and logs its outcome.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = observability.NewCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", id)

		logger := observability.WithCorrelationID(id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggerFrom(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}
