package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/peer"
)

func (s *Server) receivePush(w http.ResponseWriter, r *http.Request) {
	var snap peer.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	stats, err := s.syncSvc.ReceivePush(snap)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_FAILURE", err.Error())
		return
	}
	respondData(w, http.StatusOK, stats)
}

func (s *Server) producePull(w http.ResponseWriter, r *http.Request) {
	since, err := parseTimeParam(r.URL.Query().Get("since"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	respondData(w, http.StatusOK, s.syncSvc.ProducePull(since))
}

func (s *Server) receiveBidirectional(w http.ResponseWriter, r *http.Request) {
	var snap peer.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	local, _, err := s.syncSvc.ReceiveBidirectional(snap)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SYNC_FAILURE", err.Error())
		return
	}
	respondData(w, http.StatusOK, local)
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	s.syncSvc.RunOnce(r.Context())
	respondData(w, http.StatusOK, map[string]interface{}{"triggered": true})
}

type endpointRequest struct {
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	APIKeyID  uuid.UUID      `json:"apiKeyRef"`
	Direction peer.Direction `json:"direction"`
	IsActive  bool           `json:"isActive"`
}

func (s *Server) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	ep, err := s.syncSvc.CreateEndpoint(req.Name, req.URL, req.APIKeyID, req.Direction, req.IsActive)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, ep)
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.syncSvc.ListEndpoints())
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "endpointId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid endpointId")
		return
	}
	var req endpointRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	ep, err := s.syncSvc.UpdateEndpoint(id, req.Name, req.URL, req.APIKeyID, req.Direction, req.IsActive)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, ep)
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "endpointId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid endpointId")
		return
	}
	if err := s.syncSvc.DeleteEndpoint(id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"endpointId": id})
}
