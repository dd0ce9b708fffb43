package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"s1panel/internal/battery"
	"s1panel/internal/config"
	"s1panel/internal/ics"
	appLog "s1panel/internal/log"
	"s1panel/internal/scheduler"
)

// StatusSource is what the server reports on. *scheduler.Scheduler
// implements it.
type StatusSource interface {
	Status() scheduler.Status
	Preview() *image.RGBA
}

// Server is the read-only status server: health, status JSON, preview PNG,
// calendar and battery views, and metrics. Nothing here changes the panel.
type Server struct {
	cfg     *config.Config
	status  StatusSource
	feed    *ics.Feed
	battery battery.Reader
	metrics http.Handler
	router  *mux.Router
	now     func() time.Time

	// In-memory cache for /api/events responses so a browser refresh does
	// not re-expand recurrences.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache

	// In-memory cache for battery status. This avoids hitting I2C on every
	// single HTTP call.
	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

// Option customizes a Server.
type Option func(*Server)

// WithFeed enables /api/events.
func WithFeed(f *ics.Feed) Option { return func(s *Server) { s.feed = f } }

// WithBattery enables /api/battery.
func WithBattery(r battery.Reader) Option { return func(s *Server) { s.battery = r } }

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, status StatusSource, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		status: status,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="s1panel", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Start serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/battery", s.handleBattery).Methods(http.MethodGet)
	s.router.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handlePreview encodes the last composed framebuffer as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img := s.status.Preview()
	if img == nil {
		writeError(w, http.StatusServiceUnavailable, "no frame composed yet")
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		appLog.Error("preview encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleBattery exposes current battery status (percent, voltage).
//
// Battery status does not need sub-second precision, so a short TTL cache
// sits in front of the reader.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusNotFound, "battery not configured")
		return
	}

	const batteryCacheTTL = 30 * time.Second
	now := s.now()

	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// eventsCache holds a cached /api/events response keyed by its query.
type eventsCache struct {
	key       string
	resp      eventsResponse
	updatedAt time.Time
}

// batteryCache holds the last known battery status and its timestamp.
type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID string    `json:"source_id"`
	UID      string    `json:"uid"`
	Summary  string    `json:"summary"`
	Location string    `json:"location"`
	AllDay   bool      `json:"all_day"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// handleEvents returns the occurrences the calendar sensor sees.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusNotFound, "calendar not configured")
		return
	}

	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)

	const eventsCacheTTL = 30 * time.Second
	cacheNow := s.now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.key == key && cacheNow.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	loc := s.feed.Location()
	now := cacheNow.In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	occ, err := s.feed.Between(rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, occurrenceDTO{
			SourceID: o.SourceID,
			UID:      o.UID,
			Summary:  o.Summary,
			Location: o.Location,
			AllDay:   o.AllDay,
			Start:    o.Start,
			End:      o.End,
		})
	}

	resp := eventsResponse{
		Occurrences:     dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
		FetchedAt:       s.feed.Fetched(),
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{key: key, resp: resp, updatedAt: cacheNow}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
