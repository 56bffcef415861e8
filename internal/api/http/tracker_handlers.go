package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/event"
)

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.trackerSvc.Status())
}

type sessionRoleRequest struct {
	RoleID uuid.UUID `json:"roleId"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRoleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	if req.RoleID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "roleId is required")
		return
	}
	state, err := s.trackerSvc.Start(req.RoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, state)
}

func (s *Server) switchSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRoleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	if req.RoleID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "roleId is required")
		return
	}
	commitAt, err := s.trackerSvc.Switch(req.RoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"roleId":   req.RoleID,
		"commitAt": commitAt,
	})
}

func (s *Server) cancelTransition(w http.ResponseWriter, r *http.Request) {
	if err := s.trackerSvc.CancelTransition(); err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, s.trackerSvc.Status())
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.trackerSvc.End()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, state)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("startDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("endDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	var roleID *uuid.UUID
	if v := r.URL.Query().Get("roleId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid roleId")
			return
		}
		roleID = &id
	}
	respondData(w, http.StatusOK, s.reportSvc.Sessions(from, to, roleID))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("startDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("endDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	var roleID *uuid.UUID
	if v := r.URL.Query().Get("roleId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid roleId")
			return
		}
		roleID = &id
	}
	typ := event.Type(r.URL.Query().Get("type"))
	respondData(w, http.StatusOK, s.reportSvc.Events(from, to, roleID, typ))
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("startDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("endDate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	respondData(w, http.StatusOK, s.reportSvc.Analytics(from, to))
}

type noteCreateRequest struct {
	SessionID uuid.UUID `json:"sessionId"`
	Text      string    `json:"text"`
}

func (s *Server) createNote(w http.ResponseWriter, r *http.Request) {
	var req noteCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	note, err := s.reportSvc.AddNote(req.SessionID, req.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, note)
}

type noteUpdateRequest struct {
	Text string `json:"text"`
}

func (s *Server) updateNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "noteId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid noteId")
		return
	}
	var req noteUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	note, err := s.reportSvc.UpdateNote(id, req.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, note)
}

func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "noteId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid noteId")
		return
	}
	if err := s.reportSvc.DeleteNote(id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"noteId": id})
}
