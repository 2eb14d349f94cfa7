package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/internal/repository"
	"drowsiness-monitor/backend/internal/services"

	"golang.org/x/crypto/bcrypt"
)

const Version = "1.0"

// ProfileStore persists driver calibration profiles.
type ProfileStore interface {
	Get(ctx context.Context, driverID string) (models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	Upsert(ctx context.Context, p models.Profile) (models.Profile, error)
	Delete(ctx context.Context, driverID string) error
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the landmark detector is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// API serves the HTTP endpoints. Profiles and Detector may be nil.
type API struct {
	Pipeline       config.Pipeline
	Registry       *services.Registry
	Metrics        *services.Metrics
	Profiles       ProfileStore
	Detector       HealthChecker
	AdminTokenHash string
	CORSOrigins    string

	started time.Time
}

func NewAPI(pipeline config.Pipeline, registry *services.Registry, metrics *services.Metrics) *API {
	return &API{
		Pipeline:    pipeline,
		Registry:    registry,
		Metrics:     metrics,
		CORSOrigins: "*",
		started:     time.Now(),
	}
}

// Routes registers the REST endpoints on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/metrics", a.handleMetrics)
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/api/result", a.handleResult)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/profiles", a.handleProfiles)
}

// HashToken returns the bcrypt hash to put in ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *API) enableCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	switch {
	case a.CORSOrigins == "*":
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case origin != "" && originAllowed(a.CORSOrigins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func originAllowed(origins, origin string) bool {
	if origins == "*" {
		return true
	}
	for _, o := range strings.Split(origins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// preflight handles CORS and OPTIONS; it reports whether the caller should
// go on serving the request.
func (a *API) preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	a.enableCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
		Code:      http.StatusText(status),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st := models.HealthStatus{
		Status:         "healthy",
		GoBackend:      "running",
		ActiveSessions: a.Registry.Len(),
		UptimeSec:      time.Since(a.started).Seconds(),
		Version:        Version,
	}
	if a.Detector != nil {
		st.Detector = a.Detector.HealthCheck(ctx)
	}
	if a.Profiles != nil {
		st.Database = a.Profiles.Ping(ctx) == nil
		if !st.Database {
			st.Status = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, st)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	snap := a.Metrics.Snapshot()
	snap["system_uptime_sec"] = int(time.Since(a.started).Seconds())
	snap["timestamp"] = time.Now().Format(time.RFC3339)
	respondJSON(w, http.StatusOK, snap)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	sessions := a.Registry.List()
	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	respondJSON(w, http.StatusOK, infos)
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		respondError(w, http.StatusBadRequest, "session is required")
		return
	}
	sess, ok := a.Registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	res, _, ok := sess.Publisher().Latest()
	if !ok {
		respondError(w, http.StatusNotFound, "No result yet")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type configResponse struct {
	EARThreshold   float64         `json:"ear_threshold"`
	WindowSeconds  int             `json:"window_seconds"`
	FrameRateHint  int             `json:"frame_rate_hint"`
	WindowFrames   int             `json:"window_frames"`
	Delegate       models.Delegate `json:"delegate"`
	Topology       string          `json:"topology"`
	DrowsyPercent  float64         `json:"drowsy_percent"`
	FatiguePercent float64         `json:"fatigue_percent"`
}

func newConfigResponse(p config.Pipeline) configResponse {
	return configResponse{
		EARThreshold:   p.EARThreshold,
		WindowSeconds:  p.WindowSeconds,
		FrameRateHint:  p.FrameRateHint,
		WindowFrames:   p.WindowFrames(),
		Delegate:       p.Delegate,
		Topology:       p.Topology,
		DrowsyPercent:  p.DrowsyPercent,
		FatiguePercent: p.FatiguePercent,
	}
}

// handleConfig returns the base pipeline, or the effective one for ?driver=.
func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet) {
		return
	}
	cfg := resolvePipeline(r.Context(), a.Pipeline, a.Profiles, r.URL.Query().Get("driver"))
	respondJSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (a *API) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !a.preflight(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	if a.Profiles == nil {
		respondError(w, http.StatusServiceUnavailable, "Profile storage is disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	driverID := r.URL.Query().Get("driver")

	switch r.Method {
	case http.MethodGet:
		if driverID == "" {
			profiles, err := a.Profiles.List(ctx)
			if err != nil {
				log.Error("failed to list profiles", "error", err)
				respondError(w, http.StatusInternalServerError, "Failed to fetch profiles")
				return
			}
			respondJSON(w, http.StatusOK, profiles)
			return
		}
		p, err := a.Profiles.Get(ctx, driverID)
		if errors.Is(err, repository.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, "Profile not found")
			return
		} else if err != nil {
			log.Error("failed to fetch profile", "driver", driverID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to fetch profile")
			return
		}
		respondJSON(w, http.StatusOK, p)

	case http.MethodPut:
		if !a.authorize(w, r) {
			return
		}
		if driverID == "" {
			respondError(w, http.StatusBadRequest, "driver is required")
			return
		}
		var p models.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		p.DriverID = driverID
		if p.Delegate != "" {
			d, err := models.ParseDelegate(string(p.Delegate))
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			p.Delegate = d
		}
		if p.EARThreshold >= 1 {
			respondError(w, http.StatusBadRequest, "ear_threshold must be below 1")
			return
		}
		p = completeProfile(p, a.Pipeline)
		if err := a.Pipeline.WithProfile(p).Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		stored, err := a.Profiles.Upsert(ctx, p)
		if err != nil {
			log.Error("failed to save profile", "driver", driverID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save profile")
			return
		}
		log.Info("profile saved", "driver", driverID, "ear_threshold", stored.EARThreshold)
		respondJSON(w, http.StatusOK, stored)

	case http.MethodDelete:
		if !a.authorize(w, r) {
			return
		}
		err := a.Profiles.Delete(ctx, driverID)
		if errors.Is(err, repository.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, "Profile not found")
			return
		} else if err != nil {
			log.Error("failed to delete profile", "driver", driverID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to delete profile")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// completeProfile fills unset fields from the base pipeline so stored rows
// are always complete.
func completeProfile(p models.Profile, base config.Pipeline) models.Profile {
	if p.EARThreshold == 0 {
		p.EARThreshold = base.EARThreshold
	}
	if p.WindowSeconds == 0 {
		p.WindowSeconds = base.WindowSeconds
	}
	if p.FrameRateHint == 0 {
		p.FrameRateHint = base.FrameRateHint
	}
	if p.Delegate == "" {
		p.Delegate = base.Delegate
	}
	return p
}

// authorize checks the bearer token against ADMIN_TOKEN_HASH.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	if a.AdminTokenHash == "" {
		respondError(w, http.StatusForbidden, "Write access is disabled")
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.AdminTokenHash), []byte(token)); err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}
