package api

import (
	"net/http"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/auth"
	"github.com/medora-health/clinicore/pkg/httputil"
)

// login handles POST /api/v1/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteAppError(w, apperr.BadRequest("email and password are required"))
		return
	}

	pair, err := s.auth.Login(r.Context(), auth.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, pair)
}

// refresh handles POST /api/v1/auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteAppError(w, apperr.BadRequest("refreshToken is required"))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, pair)
}

// logout handles POST /api/v1/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteAppError(w, apperr.BadRequest("refreshToken is required"))
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// setupPassword handles POST /api/v1/auth/setup-password
func (s *Server) setupPassword(w http.ResponseWriter, r *http.Request) {
	var req SetupPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.auth.SetupPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// changePassword handles POST /api/v1/auth/change-password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.auth.ChangePassword(r.Context(), id.StaffID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
