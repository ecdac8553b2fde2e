package model

// Principal is the identity derived from a validated bearer token. It lives
// only for the lifetime of a connection or request and is never persisted.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Anonymous reports whether the principal carries no identity. Anonymous
// connections are legal at the transport layer; room-scoped commands deny
// them at the authorization layer.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}
