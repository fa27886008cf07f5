package testutil

import (
	"net/http"

	id "rollcall/pkg/domain"
	"rollcall/pkg/requestcontext"
)

// WithAuth stamps the identity the auth middleware would have attached. An
// unparseable user id or empty role is left off, which lets tests exercise
// partially authenticated requests.
func WithAuth(req *http.Request, userID string, role id.Role) *http.Request {
	ctx := req.Context()
	if uid, err := id.ParseUserID(userID); err == nil {
		ctx = requestcontext.WithUserID(ctx, uid)
	}
	if role != "" {
		ctx = requestcontext.WithRole(ctx, role)
	}
	return req.WithContext(ctx)
}
