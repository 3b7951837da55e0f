package auth

import "time"

// Authentication method identifiers. These are the registry keys and the
// value persisted in users.authentication_method.
const (
	MethodInternal  = "INTERNAL"
	MethodGoogle    = "GOOGLE_OAUTH2"
	MethodMicrosoft = "MICROSOFT_OAUTH2"
	MethodFacebook  = "FACEBOOK_OAUTH2"
)

// Credential map keys.
const (
	KeyUsername = "username"
	KeyPassword = "password"
	KeyIDToken  = "id_token"
	KeySubject  = "sub"
	KeyCode     = "code"
	KeyState    = "state"
)

// Username length bounds enforced on registration.
const (
	MinUsernameLength = 4
	MaxUsernameLength = 32
)

// User is a local account
type User struct {
	ID                   int64  `json:"id"`
	Username             string `json:"username"`
	AuthenticationMethod string `json:"authentication_method,omitempty"`
}

// AuthenticationForm is the transient input of one login or registration call.
// SpecialToken carries the plaintext password for the internal method and the
// external ID token (or composite token) for OAuth methods.
type AuthenticationForm struct {
	MethodID     string         `json:"authentication_method"`
	Username     string         `json:"username,omitempty"`
	SpecialToken string         `json:"special_token"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// SetParameter adds or replaces a provider-specific parameter
func (f *AuthenticationForm) SetParameter(key string, value any) {
	if f.Parameters == nil {
		f.Parameters = make(map[string]any)
	}
	f.Parameters[key] = value
}

// Parameter returns a provider-specific parameter as a string
func (f *AuthenticationForm) Parameter(key string) string {
	if f.Parameters == nil {
		return ""
	}
	v, _ := f.Parameters[key].(string)
	return v
}

// Credentials flattens the form into the map handed to Provider.Authenticate.
// The special token is exposed under the method's secret key.
func (f *AuthenticationForm) Credentials() map[string]any {
	creds := make(map[string]any, len(f.Parameters)+2)
	for k, v := range f.Parameters {
		creds[k] = v
	}
	if f.Username != "" {
		creds[KeyUsername] = f.Username
	}
	if f.SpecialToken != "" {
		if normalizeMethod(f.MethodID) == MethodInternal {
			creds[KeyPassword] = f.SpecialToken
		} else {
			creds[KeyIDToken] = f.SpecialToken
		}
	}
	return creds
}

// AuthToken is a signed access/refresh pair sharing one token secret
type AuthToken struct {
	UserID       int64  `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthorizedUser is what login and refresh hand back to callers
type AuthorizedUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenRecord is the persisted trace of one issuance. A token is live only
// while its record exists and the current time is before ExpiresAt.
type TokenRecord struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	TokenSecret  string
	ExpiresAt    time.Time
}

// TokenKind selects which half of a pair is being verified
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	switch k {
	case AccessToken:
		return "access"
	case RefreshToken:
		return "refresh"
	default:
		return "unknown"
	}
}

// newAuthorizedUser joins a user with a freshly minted token pair
func newAuthorizedUser(user *User, token *AuthToken) *AuthorizedUser {
	return &AuthorizedUser{
		ID:           user.ID,
		Username:     user.Username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
}
