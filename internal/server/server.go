package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pingsantohq/watchdog/internal/events"
	"github.com/pingsantohq/watchdog/internal/persist"
	"github.com/pingsantohq/watchdog/internal/registry"
	"github.com/pingsantohq/watchdog/internal/sources"
	"github.com/pingsantohq/watchdog/internal/watchdog"
	"github.com/pingsantohq/watchdog/pkg/types"
)

const apiPrefix = "/api/v1"

// Config controls HTTP server settings.
type Config struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	AdminBearerToken string
}

// ReadinessChecker reports whether the service is ready and why not.
type ReadinessChecker interface {
	Ready(now time.Time) (bool, []string)
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	Catalog  *sources.Catalog
	// Sources receives heartbeats and removals. Defaults to the registry.
	Sources sources.Sink
	Events  *events.Ring
	Stream  http.Handler
	Metrics http.Handler
	Ready   ReadinessChecker
	// WatchdogOptions are applied to watchdogs created through the API.
	WatchdogOptions []watchdog.Option
	Now             func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs an HTTP server exposing the watchdog API.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9320"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("server")
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Catalog == nil {
		deps.Catalog = sources.NewCatalog()
	}
	if deps.Sources == nil {
		deps.Sources = deps.Registry
	}
	if deps.Events == nil {
		deps.Events = events.NewRing(0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	r.Use(logRequests(deps.Logger))

	api := r.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/watchdogs", listWatchdogsHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/watchdogs", admin(cfg, createWatchdogHandler(deps))).Methods(http.MethodPost)
	api.HandleFunc("/watchdogs/{id}", getWatchdogHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/watchdogs/{id}", admin(cfg, deleteWatchdogHandler(deps))).Methods(http.MethodDelete)
	api.HandleFunc("/watchdogs/{id}/entries", admin(cfg, addEntryHandler(deps))).Methods(http.MethodPost)
	api.HandleFunc("/watchdogs/{id}/entries", admin(cfg, removeAllEntriesHandler(deps))).Methods(http.MethodDelete)
	api.HandleFunc("/watchdogs/{id}/entries/{index}", admin(cfg, removeEntryHandler(deps))).Methods(http.MethodDelete)
	api.HandleFunc("/watchdogs/{id}/entries/{index}", admin(cfg, updateEntryHandler(deps))).Methods(http.MethodPatch)
	api.HandleFunc("/watchdogs/{id}/swap", admin(cfg, swapEntriesHandler(deps))).Methods(http.MethodPost)
	api.HandleFunc("/sources/{source_id}/heartbeat", heartbeatHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/sources/{source_id}", admin(cfg, removeSourceHandler(deps))).Methods(http.MethodDelete)
	api.HandleFunc("/events", eventsHandler(deps)).Methods(http.MethodGet)
	if deps.Stream != nil {
		api.Handle("/stream", deps.Stream).Methods(http.MethodGet)
	}

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func listWatchdogsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := deps.Registry.All()
		items := make([]types.WatchdogSnapshot, 0, len(all))
		for _, wd := range all {
			items = append(items, wd.Snapshot())
		}
		writeJSON(w, http.StatusOK, struct {
			Items []types.WatchdogSnapshot `json:"items"`
		}{Items: items})
	}
}

func createWatchdogHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		opts := append([]watchdog.Option{watchdog.WithName(req.Name), watchdog.WithID(req.ID)}, deps.WatchdogOptions...)
		wd := watchdog.New(opts...)
		if err := deps.Registry.Add(wd); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, wd.Snapshot())
	}
}

func getWatchdogHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, wd.Snapshot())
	}
}

func deleteWatchdogHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Registry.Remove(mux.Vars(r)["id"]) {
			http.Error(w, "watchdog not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addEntryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		var req struct {
			SourceID     string   `json:"source_id"`
			SourceName   string   `json:"source_name"`
			Label        *string  `json:"label"`
			ToleranceSec *float64 `json:"tolerance_sec"`
			PlaySound    bool     `json:"play_sound"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.SourceID == "" {
			writeError(w, deps.Logger, watchdog.ErrInvalidSource)
			return
		}
		label := ""
		if req.Label != nil {
			label = *req.Label
		}
		if err := checkFields("source_id", req.SourceID, "source_name", req.SourceName, "label", label); err != nil {
			writeError(w, deps.Logger, err)
			return
		}

		src := deps.Catalog.Ensure(req.SourceID, req.SourceName)
		opts := []watchdog.EntryOption{watchdog.WithPlaySound(req.PlaySound)}
		if req.Label != nil {
			opts = append(opts, watchdog.WithLabel(*req.Label))
		}
		if req.ToleranceSec != nil {
			opts = append(opts, watchdog.WithTolerance(secondsToDuration(*req.ToleranceSec)))
		}
		idx, err := wd.Add(src, opts...)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Index    int                    `json:"index"`
			Watchdog types.WatchdogSnapshot `json:"watchdog"`
		}{Index: idx, Watchdog: wd.Snapshot()})
	}
}

func removeAllEntriesHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		wd.RemoveAll()
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeEntryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		idx, ok := indexVar(w, r)
		if !ok {
			return
		}
		if err := wd.Remove(idx); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateEntryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		idx, ok := indexVar(w, r)
		if !ok {
			return
		}
		var req struct {
			Label        *string  `json:"label"`
			ToleranceSec *float64 `json:"tolerance_sec"`
			PlaySound    *bool    `json:"play_sound"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if req.Label != nil {
			if err := checkFields("label", *req.Label); err != nil {
				writeError(w, deps.Logger, err)
				return
			}
		}

		// Tolerance first: it is the only setter that can reject a value.
		if req.ToleranceSec != nil {
			if err := wd.SetTolerance(idx, secondsToDuration(*req.ToleranceSec)); err != nil {
				writeError(w, deps.Logger, err)
				return
			}
		}
		if req.Label != nil {
			if err := wd.SetLabel(idx, *req.Label); err != nil {
				writeError(w, deps.Logger, err)
				return
			}
		}
		if req.PlaySound != nil {
			if err := wd.SetPlaySound(idx, *req.PlaySound); err != nil {
				writeError(w, deps.Logger, err)
				return
			}
		}
		if _, err := wd.Label(idx); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wd.Snapshot())
	}
}

func swapEntriesHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wd, ok := lookup(w, r, deps)
		if !ok {
			return
		}
		var req struct {
			A *int `json:"a"`
			B *int `json:"b"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.A == nil || req.B == nil {
			http.Error(w, "a and b are required", http.StatusBadRequest)
			return
		}
		if err := wd.Swap(*req.A, *req.B); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wd.Snapshot())
	}
}

func heartbeatHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := mux.Vars(r)["source_id"]
		var req struct {
			Timestamp time.Time `json:"ts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		ts := req.Timestamp
		if ts.IsZero() {
			ts = deps.Now()
		}
		matched := deps.Sources.OnSourceChanged(sourceID, ts)
		writeJSON(w, http.StatusOK, struct {
			SourceID string `json:"source_id"`
			Matched  int    `json:"matched"`
		}{SourceID: sourceID, Matched: matched})
	}
}

func removeSourceHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := mux.Vars(r)["source_id"]
		removed := deps.Sources.OnSourceRemoved(sourceID)
		known := deps.Catalog.Remove(sourceID)
		if removed == 0 && !known {
			http.Error(w, "source not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			SourceID string `json:"source_id"`
			Removed  int    `json:"removed"`
		}{SourceID: sourceID, Removed: removed})
	}
}

func eventsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				limit = v
			}
		}
		writeJSON(w, http.StatusOK, struct {
			Items []types.Event `json:"items"`
		}{Items: deps.Events.Recent(limit)})
	}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := deps.Ready.Ready(deps.Now())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, struct {
			Ready   bool     `json:"ready"`
			Reasons []string `json:"reasons,omitempty"`
		}{Ready: ready, Reasons: reasons})
	}
}

func lookup(w http.ResponseWriter, r *http.Request, deps Dependencies) (*watchdog.Watchdog, bool) {
	wd, ok := deps.Registry.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "watchdog not found", http.StatusNotFound)
	}
	return wd, ok
}

func indexVar(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return idx, true
}

func secondsToDuration(sec float64) time.Duration {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0
	}
	return time.Duration(math.Round(sec * float64(time.Second)))
}

// checkFields takes name/value pairs and rejects values that cannot be
// persisted.
func checkFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := persist.CheckField(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, watchdog.ErrIndexOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, watchdog.ErrInvalidSource), errors.Is(err, watchdog.ErrInvalidTolerance),
		errors.Is(err, persist.ErrDelimiter):
		status = http.StatusBadRequest
	case errors.Is(err, watchdog.ErrDuplicateSource), errors.Is(err, registry.ErrDuplicateWatchdog):
		status = http.StatusConflict
	default:
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// admin requires the bearer token on mutating routes when one is configured.
func admin(cfg Config, next http.HandlerFunc) http.HandlerFunc {
	if strings.TrimSpace(cfg.AdminBearerToken) == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, cfg.AdminBearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func authorizeAdmin(r *http.Request, token string) bool {
	const prefix = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix)) == token
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The stream endpoint hijacks the connection; wrapping would hide http.Hijacker.
			if strings.HasSuffix(r.URL.Path, "/stream") {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("took", time.Since(start)))
		})
	}
}
