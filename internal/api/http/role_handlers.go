package httpapi

import (
	"net/http"
)

type roleRequest struct {
	Name        string `json:"name"`
	ColorHex    string `json:"colorHex"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	role, err := s.roleSvc.Create(req.Name, req.ColorHex, req.Description, req.Icon)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, role)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, s.roleSvc.List())
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "roleId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid roleId")
		return
	}
	role, err := s.roleSvc.Get(id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, role)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "roleId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid roleId")
		return
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", err.Error())
		return
	}
	role, err := s.roleSvc.Update(id, req.Name, req.ColorHex, req.Description, req.Icon)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, role)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "roleId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_FAILURE", "invalid roleId")
		return
	}
	if err := s.roleSvc.Delete(id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"roleId": id})
}
