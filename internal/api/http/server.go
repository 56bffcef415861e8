package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appAuth "github.com/roleclock/roleclock/internal/application/auth"
	appReport "github.com/roleclock/roleclock/internal/application/report"
	appRole "github.com/roleclock/roleclock/internal/application/role"
	appSync "github.com/roleclock/roleclock/internal/application/sync"
	appTracker "github.com/roleclock/roleclock/internal/application/tracker"
	"github.com/roleclock/roleclock/internal/domain/apikey"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	trackerSvc *appTracker.Service
	roleSvc    *appRole.Service
	reportSvc  *appReport.Service
	authSvc    *appAuth.Service
	syncSvc    *appSync.Service
}

func NewServer(
	trackerSvc *appTracker.Service,
	roleSvc *appRole.Service,
	reportSvc *appReport.Service,
	authSvc *appAuth.Service,
	syncSvc *appSync.Service,
) *Server {
	return &Server{
		trackerSvc: trackerSvc,
		roleSvc:    roleSvc,
		reportSvc:  reportSvc,
		authSvc:    authSvc,
		syncSvc:    syncSvc,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.With(s.requirePermission(apikey.PermissionRead)).Get("/status", s.getStatus)

	r.Route("/roles", func(r chi.Router) {
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/", s.createRole)
		r.With(s.requirePermission(apikey.PermissionRead)).Get("/", s.listRoles)
		r.With(s.requirePermission(apikey.PermissionRead)).Get("/{roleId}", s.getRole)
		r.With(s.requirePermission(apikey.PermissionWrite)).Put("/{roleId}", s.updateRole)
		r.With(s.requirePermission(apikey.PermissionWrite)).Delete("/{roleId}", s.deleteRole)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/start", s.startSession)
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/switch", s.switchSession)
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/cancel", s.cancelTransition)
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/end", s.endSession)
		r.With(s.requirePermission(apikey.PermissionRead)).Get("/", s.listSessions)
	})

	r.Route("/notes", func(r chi.Router) {
		r.With(s.requirePermission(apikey.PermissionWrite)).Post("/", s.createNote)
		r.With(s.requirePermission(apikey.PermissionWrite)).Put("/{noteId}", s.updateNote)
		r.With(s.requirePermission(apikey.PermissionWrite)).Delete("/{noteId}", s.deleteNote)
	})

	r.With(s.requirePermission(apikey.PermissionRead)).Get("/events", s.listEvents)
	r.With(s.requirePermission(apikey.PermissionRead)).Get("/analytics", s.getAnalytics)

	r.Route("/auth/keys", func(r chi.Router) {
		r.Use(s.requirePermission(apikey.PermissionAdmin))
		r.Post("/", s.createKey)
		r.Get("/", s.listKeys)
		r.Put("/{keyId}", s.updateKey)
		r.Delete("/{keyId}", s.deleteKey)
	})

	r.Route("/sync", func(r chi.Router) {
		r.With(s.requirePermission(apikey.PermissionSync)).Post("/push", s.receivePush)
		r.With(s.requirePermission(apikey.PermissionSync)).Get("/pull", s.producePull)
		r.With(s.requirePermission(apikey.PermissionSync)).Post("/bidirectional", s.receiveBidirectional)
		r.With(s.requirePermission(apikey.PermissionAdmin)).Post("/run", s.runSync)

		r.Route("/endpoints", func(r chi.Router) {
			r.Use(s.requirePermission(apikey.PermissionAdmin))
			r.Post("/", s.createEndpoint)
			r.Get("/", s.listEndpoints)
			r.Put("/{endpointId}", s.updateEndpoint)
			r.Delete("/{endpointId}", s.deleteEndpoint)
		})
	})

	return r
}

// Envelope is the uniform response shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: code, Message: message})
}

// respondServiceError maps the error taxonomy onto statuses. No error
// here is fatal; everything is reported to the caller.
func respondServiceError(w http.ResponseWriter, err error) {
	var lockErr *appTracker.LockError
	switch {
	case errors.As(err, &lockErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusLocked)
		_ = json.NewEncoder(w).Encode(Envelope{
			Success: false,
			Error:   "LOCK_VIOLATION",
			Message: lockErr.Error(),
			Data:    map[string]int{"remainingSeconds": lockErr.Remaining},
		})
	case errors.Is(err, appRole.ErrNotFound),
		errors.Is(err, appTracker.ErrRoleNotFound),
		errors.Is(err, appReport.ErrSessionNotFound),
		errors.Is(err, appReport.ErrNoteNotFound),
		errors.Is(err, appAuth.ErrKeyNotFound),
		errors.Is(err, appSync.ErrEndpointNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, appTracker.ErrNotActive),
		errors.Is(err, appTracker.ErrTransitionInProgress),
		errors.Is(err, appTracker.ErrNoTransition):
		respondError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

// parseTimeParam accepts RFC3339 or unix milliseconds.
func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	return nil, errors.New("invalid time value: " + v)
}
