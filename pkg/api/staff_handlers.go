package api

import (
	"net/http"

	"github.com/medora-health/clinicore/pkg/httputil"
)

// getProfile handles GET /api/v1/staff/me
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	staff, err := s.auth.Profile(r.Context(), id.StaffID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, newStaffResponse(staff))
}

// updateProfile handles PUT /api/v1/staff/me
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	staff, err := s.auth.UpdateProfile(r.Context(), id.StaffID, req.FullName, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, newStaffResponse(staff))
}

// myPermissions handles GET /api/v1/staff/me/permissions
func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	grants, err := s.permissions.Effective(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, PermissionsResponse{StaffID: id.StaffID, Permissions: grants})
}

// getStaffPermissions handles GET /api/v1/staff/{staff_id}/permissions
func (s *Server) getStaffPermissions(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	staffID, err := httputil.ParsePathUUID(r, "staff_id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	grants, err := s.permissions.Stored(r.Context(), actor.TenantID, staffID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, PermissionsResponse{StaffID: staffID, Permissions: grants})
}

// replaceStaffPermissions handles PUT /api/v1/staff/{staff_id}/permissions
func (s *Server) replaceStaffPermissions(w http.ResponseWriter, r *http.Request) {
	actor, err := identity(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	staffID, err := httputil.ParsePathUUID(r, "staff_id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	var req ReplacePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if _, err := s.permissions.Replace(r.Context(), actor, staffID, req.Permissions); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// createInvitation handles POST /api/v1/staff/{staff_id}/invitations
func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	staffID, err := httputil.ParsePathUUID(r, "staff_id")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	invitation, err := s.auth.CreateInvitation(r.Context(), staffID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, InvitationResponse{
		Token:     invitation.Token,
		StaffID:   invitation.StaffID,
		ExpiresAt: invitation.ExpiresAt,
	})
}
