package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ballotbox/models"
	"ballotbox/service"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
	Confirm string `json:"confirm_password"`
}

type castVoteRequest struct {
	// Candidate is a username or full name.
	Candidate string `json:"candidate"`
}

type castVoteResponse struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Timestamp models.Timestamp `json:"timestamp"`
	Receipt   string           `json:"receipt"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Candidate string `json:"candidate,omitempty"`
	Role      string `json:"role,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrCandidateNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateUsername), errors.Is(err, models.ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, models.ErrRoleUndetermined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrExportDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	var already *models.AlreadyVotedError
	if errors.As(err, &already) {
		resp.Candidate = already.Candidate
		resp.Role = already.Role
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.Invalid("body", err.Error())
	}
	return nil
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	var form models.RegistrationForm
	if err := decodeBody(w, r, &form); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.election.RegisterVoter(r.Context(), form)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleRegisterCandidate(w http.ResponseWriter, r *http.Request) {
	var form models.RegistrationForm
	if err := decodeBody(w, r, &form); err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.election.RegisterCandidate(r.Context(), form)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Role == "" {
		req.Role = models.LoginVoter
	}
	p, err := s.election.Authenticate(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListVoters(w http.ResponseWriter, r *http.Request) {
	reg := s.election.Registry()
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, reg.SearchVoters(q))
		return
	}
	writeJSON(w, http.StatusOK, reg.ListVoters())
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	reg := s.election.Registry()
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, reg.SearchCandidates(q))
		return
	}
	writeJSON(w, http.StatusOK, reg.ListCandidates())
}

func (s *Server) handleEditVoter(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	p := principalFrom(r.Context())
	if p.Role != models.LoginAdmin && p.Username != username {
		s.writeError(w, models.ErrUnauthorized)
		return
	}
	var patch models.VoterPatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.election.Registry().EditVoter(r.Context(), username, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p.Role == models.LoginAdmin {
		s.logger.Info("voter edited by administrator", "admin", p.Username, "username", username)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVoter(w http.ResponseWriter, r *http.Request) {
	if err := s.election.DeleteVoter(r.Context(), r.PathValue("username")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	prev, err := s.election.DeleteCandidate(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prev)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.election.Registry().ChangePassword(r.Context(), r.PathValue("username"), req.Current, req.New, req.Confirm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	voter := principalFrom(r.Context()).Username
	record, err := s.election.CastVote(r.Context(), voter, req.Candidate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, castVoteResponse{
		ID:        record.ID,
		Role:      record.Role,
		Timestamp: record.Timestamp,
		Receipt:   record.Receipt,
	})
}

func (s *Server) handleMyVotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.election.Ledger().VoterHistory(principalFrom(r.Context()).Username))
}

// handleVerifyReceipt confirms a receipt is on the ledger without revealing
// who cast it or for whom.
func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	record, err := s.election.Ledger().VerifyReceipt(r.PathValue("receipt"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, castVoteResponse{
		ID:        record.ID,
		Role:      record.Role,
		Timestamp: record.Timestamp,
		Receipt:   record.Receipt,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.election.Results())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.election.ResetElection(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Warn("election reset", "admin", principalFrom(r.Context()).Username)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	path, err := s.election.ExportResults(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
