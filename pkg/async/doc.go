// Package async runs best-effort background work.
//
// SafeGo is used for housekeeping triggered from the request path, such as
// purging expired refresh tokens after a login. The task outlives the request,
// recovers its own panics, and logs failures instead of returning them.
package async
