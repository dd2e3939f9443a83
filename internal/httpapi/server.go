package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ieltsgenai/prep/internal/assessment"
	"github.com/ieltsgenai/prep/internal/auth"
	"github.com/ieltsgenai/prep/internal/config"
	"github.com/ieltsgenai/prep/internal/observability"
	"github.com/ieltsgenai/prep/internal/purchase"
	"github.com/ieltsgenai/prep/internal/session"
	"github.com/ieltsgenai/prep/internal/store"
)

// Assessor scores one submission, streaming examiner commentary through
// onPartial as it is produced.
type Assessor interface {
	Assess(
		ctx context.Context,
		assessmentType string,
		question assessment.Question,
		submission string,
		onPartial func(text, audioBase64 string),
	) (assessment.Outcome, error)
}

type Server struct {
	cfg      config.Config
	store    store.Store
	sessions *session.Cache
	auth     *auth.Service
	verifier purchase.Verifier
	assessor Assessor
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	st store.Store,
	sessions *session.Cache,
	authSvc *auth.Service,
	verifier purchase.Verifier,
	assessor Assessor,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		auth:     authSvc,
		verifier: verifier,
		assessor: assessor,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Post("/api/logout", s.handleLogout)

	r.Get("/api/assessments", s.handleListAssessments)
	r.Get("/api/assessments/{type}/question", s.handleNextQuestion)
	r.Post("/api/assessments/{type}/result", s.handleSubmitResult)
	r.Get("/api/assessments/results", s.handleResultHistory)

	r.Post("/api/purchase/verify", s.handleVerifyPurchase)

	r.Get("/api/consent", s.handleGetConsent)
	r.Post("/api/consent", s.handleUpdateConsent)
	r.Delete("/api/account", s.handleDeleteAccount)

	r.Get("/api/nova-sonic/ws", s.handleSpeechWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"store_mode":      s.storeMode(),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) storeMode() string {
	if _, ok := s.store.(*store.PostgresStore); ok {
		return "postgres"
	}
	return "in-memory"
}

// sessionToken pulls the session token from the usual transports: the
// session_id query parameter, or the session_id field of a decoded body.
func sessionToken(r *http.Request, body map[string]any) string {
	if token := strings.TrimSpace(r.URL.Query().Get("session_id")); token != "" {
		return token
	}
	if body != nil {
		if token, ok := body["session_id"].(string); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// authenticate resolves the request's session token to its user, writing the
// 401 itself when it cannot.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, body map[string]any) (store.User, bool) {
	token := sessionToken(r, body)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing_session", "session_id is required")
		return store.User{}, false
	}
	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_session", "session expired or unknown")
		return store.User{}, false
	}
	return user, true
}

// countRequests tallies requests by route pattern and status class.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(sw.status/100*100)).Inc()
	})
}

// statusWriter records the response status. It forwards Hijack so the
// websocket upgrade keeps working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
