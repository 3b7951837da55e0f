package auth

// AuthContext is attached to a request once its access token has been
// authenticated
type AuthContext struct {
	User   *User
	Claims *Claims
	Token  string
}

// UserID returns the authenticated user's ID, or 0 when unauthenticated
func (c *AuthContext) UserID() int64 {
	if c == nil || c.User == nil {
		return 0
	}
	return c.User.ID
}
