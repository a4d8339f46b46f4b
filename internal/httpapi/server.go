package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Engine is the monitoring loop as seen by the API.
type Engine interface {
	Start(ctx context.Context) bool
	Stop() bool
	IsRunning() bool
	Snapshot(ctx context.Context) domain.Snapshot
	RunRetention(ctx context.Context) (domain.PurgeResult, error)
}

// CertificateLookup serves /api/ssl.
type CertificateLookup interface {
	Cached(target string) (*domain.CertificateRecord, time.Time)
	Check(ctx context.Context, target string, timeout time.Duration) (domain.CertificateRecord, error)
}

// WebhookTester sends a marked test payload to one subscription.
type WebhookTester interface {
	SendTest(ctx context.Context, sub domain.WebhookSubscription) error
}

type Server struct {
	Logger   *zap.Logger
	Engine   Engine
	Store    repo.Store
	Certs    CertificateLookup
	Webhooks WebhookTester
	Stream   http.Handler

	// BaseCtx outlives requests; /api/start runs the loop under it.
	BaseCtx context.Context
}

func NewServer(l *zap.Logger, eng Engine, store repo.Store) *Server {
	return &Server{Logger: l, Engine: eng, Store: store, BaseCtx: context.Background()}
}

// Router wires the routes. Reads need a public or admin key, mutations an
// admin key; each group has its own rate limit.
func (s *Server) Router(keys apimw.Keys, origins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	if keys.OnAttempt == nil {
		keys.OnAttempt = s.recordAttempt
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(publicRPM, publicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/status", s.handleStatus)
			r.Get("/is-monitoring", s.handleIsMonitoring)
			r.Get("/ssl", s.handleSSL)
			r.Get("/history", s.handleHistory)
			r.Get("/targets", s.handleListTargets)
			if s.Stream != nil {
				r.Get("/ws", s.Stream.ServeHTTP)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(adminRPM, adminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/cleanup", s.handleCleanup)
			r.Post("/webhooks/test", s.handleWebhookTest)
			r.Post("/targets", s.handleAddTarget)
			r.Delete("/targets", s.handleDeleteTarget)
		})
	})
	return r
}

func (s *Server) recordAttempt(r *http.Request, ok bool) {
	err := s.Store.RecordAuthAttempt(r.Context(), domain.AuthAttempt{
		RemoteAddr: apimw.ClientIP(r),
		Path:       r.URL.Path,
		Success:    ok,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.Logger.Warn("auth_attempt_record_failed", zap.Error(err))
	}
	if !ok {
		s.Logger.Info("auth_rejected",
			zap.String("remote", apimw.ClientIP(r)),
			zap.String("path", r.URL.Path),
		)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Snapshot(r.Context()))
}

func (s *Server) handleIsMonitoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"isMonitoring": s.Engine.IsRunning()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	started := s.Engine.Start(s.BaseCtx)
	msg := "Monitoring started"
	if !started {
		msg = "Monitoring already running"
	}
	s.Logger.Info("api_start", zap.Bool("changed", started))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changed": started, "message": msg})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.Engine.Stop()
	msg := "Monitoring stopped"
	if !stopped {
		msg = "Monitoring was not running"
	}
	s.Logger.Info("api_stop", zap.Bool("changed", stopped))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changed": stopped, "message": msg})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.RunRetention(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false, "deleted": res, "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": res})
}

type webhookTestPayload struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if s.Webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks not configured")
		return
	}
	var p webhookTestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || (p.ID == "" && p.URL == "") {
		writeError(w, http.StatusBadRequest, "id or url required")
		return
	}

	var sub domain.WebhookSubscription
	if p.ID != "" {
		subs, err := s.Store.LoadSubscriptions(r.Context())
		if err != nil {
			s.Logger.Error("load_subscriptions_failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load subscriptions")
			return
		}
		found := false
		for _, cand := range subs {
			if cand.ID == p.ID {
				sub, found = cand, true
				break
			}
		}
		if !found {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
	} else {
		u, err := domain.CanonicalURL(p.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid url")
			return
		}
		sub = domain.WebhookSubscription{Name: "adhoc", URL: u, Secret: p.Secret, Active: true}
	}

	if err := s.Webhooks.SendTest(r.Context(), sub); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Test webhook sent successfully"})
}

type sslInfo struct {
	Target        string    `json:"target"`
	Issuer        string    `json:"issuer"`
	ValidFrom     time.Time `json:"validFrom"`
	ValidTo       time.Time `json:"validTo"`
	DaysRemaining int       `json:"daysRemaining"`
	LastChecked   time.Time `json:"lastChecked"`
	Source        string    `json:"source"`
}

// handleSSL answers from the checker cache, then storage, then a live
// handshake.
func (s *Server) handleSSL(w http.ResponseWriter, r *http.Request) {
	target, err := domain.CanonicalURL(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target")
		return
	}
	if !(domain.Target{URL: target}).Secure() {
		writeError(w, http.StatusBadRequest, "target is not https")
		return
	}

	now := time.Now()
	reply := func(rec domain.CertificateRecord, source string) {
		writeJSON(w, http.StatusOK, sslInfo{
			Target:        target,
			Issuer:        rec.Issuer,
			ValidFrom:     rec.ValidFrom,
			ValidTo:       rec.ValidTo,
			DaysRemaining: rec.DaysRemaining(now),
			LastChecked:   rec.LastChecked,
			Source:        source,
		})
	}

	if s.Certs != nil {
		if rec, _ := s.Certs.Cached(target); rec != nil {
			reply(*rec, "cache")
			return
		}
	}
	rec, err := s.Store.LatestCertificate(r.Context(), target)
	switch {
	case err == nil:
		reply(*rec, "store")
		return
	case !errors.Is(err, repo.ErrNotFound):
		s.Logger.Warn("certificate_load_error", zap.String("target", target), zap.Error(err))
	}
	if s.Certs == nil {
		writeError(w, http.StatusNotFound, "no certificate known")
		return
	}

	timeout := domain.DefaultTimeout
	if st, err := s.Store.LoadSettings(r.Context()); err == nil {
		timeout = st.WithDefaults().SSLTimeout
	}
	live, err := s.Certs.Check(r.Context(), target, timeout)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	reply(live, "live")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := ""
	if raw := q.Get("target"); raw != "" {
		t, err := domain.CanonicalURL(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid target")
			return
		}
		target = t
	}
	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	status := domain.StatusKind(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	// over-fetch when filtering by status so the page is still full
	fetch := limit
	if status != "" {
		fetch = maxHistoryLimit
	}
	entries, err := s.Store.RecentHistory(r.Context(), target, fetch)
	if err != nil {
		s.Logger.Error("history_load_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	out := make([]domain.HistoryEntry, 0, min(len(entries), limit))
	for _, e := range entries {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

type addPayload struct {
	URL      string `json:"url"`
	Expected string `json:"expected"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.URL == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	t, err := domain.ParseTargetLine(p.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	if p.Expected != "" {
		t.ExpectedContent = p.Expected
	}

	switch err := s.Store.AddTarget(r.Context(), t); {
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, "target already exists")
		return
	case err != nil:
		s.Logger.Error("add_target_failed", zap.String("url", t.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not add")
		return
	}

	s.Logger.Info("added_target", zap.String("url", t.URL), zap.Bool("expects_content", t.ExpectedContent != ""))
	writeJSON(w, http.StatusCreated, map[string]any{"target": t})
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	u, err := domain.CanonicalURL(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	switch err := s.Store.RemoveTarget(r.Context(), u); {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
		return
	case err != nil:
		s.Logger.Error("remove_target_failed", zap.String("url", u), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not remove")
		return
	}
	s.Logger.Info("removed_target", zap.String("url", u))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Store.LoadTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
