// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// Errors are rendered from their apperr kind:
//
//	if err := authenticator.Logout(ctx, req.RefreshToken); err != nil {
//		httputil.WriteAppError(w, err) // {"error": "...", "code": "unauthorized"}
//		return
//	}
//
// Request bodies:
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
package httputil
