// Package apperr defines the error taxonomy shared by the clinicore packages.
//
// Every failure that reaches a caller carries a Kind. HTTP handlers map the
// kind to a status code with HTTPStatus; everything that is not an *Error is
// treated as Internal and its cause is never shown to the caller.
//
//	if err := authn.Logout(ctx, token); err != nil {
//		httputil.WriteAppError(w, err)
//	}
package apperr
