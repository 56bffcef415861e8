package httpapi

import (
	"net/http"

	"github.com/roleclock/roleclock/internal/domain/apikey"
)

type keyCreateRequest struct {
	Name        string              `json:"name"`
	Permissions []apikey.Permission `json:"permissions"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	// The only response that ever carries the secret; it cannot be
	// recovered afterwards.
	key, err := s.authSvc.GenerateKey(req.Name, req.Permissions)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, key)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.authSvc.ListKeys())
}

type keyUpdateRequest struct {
	Name        string              `json:"name"`
	Permissions []apikey.Permission `json:"permissions"`
	IsActive    bool                `json:"isActive"`
}

func (s *Server) updateKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "keyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid keyId")
		return
	}
	var req keyUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	key, err := s.authSvc.UpdateKey(id, req.Name, req.Permissions, req.IsActive)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, key)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "keyId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid keyId")
		return
	}
	if err := s.authSvc.DeleteKey(id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"keyId": id})
}
