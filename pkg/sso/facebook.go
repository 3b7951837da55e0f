package sso

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// FacebookProvider reserves FACEBOOK_OAUTH2. Every operation fails with
// auth.ErrNotImplemented.
type FacebookProvider struct{}

var _ auth.Provider = FacebookProvider{}

// NewFacebookProvider returns the stub provider
func NewFacebookProvider() FacebookProvider {
	return FacebookProvider{}
}

func (FacebookProvider) Name() string { return auth.MethodFacebook }

func (FacebookProvider) Authenticate(context.Context, map[string]any) (bool, error) {
	return false, errFacebook("authenticate")
}

func (FacebookProvider) ValidateCredentials(map[string]any) error {
	return errFacebook("validate credentials")
}

func (FacebookProvider) CreateUser(context.Context, *auth.AuthenticationForm) (*auth.User, error) {
	return nil, errFacebook("create user")
}

func (FacebookProvider) UserFromCredentials(context.Context, *auth.AuthenticationForm) (*auth.User, error) {
	return nil, errFacebook("resolve user")
}

func (FacebookProvider) InsertCredentialsForUser(context.Context, *auth.User, map[string]any) error {
	return errFacebook("insert credentials")
}

func errFacebook(op string) error {
	return fmt.Errorf("%w: facebook %s", auth.ErrNotImplemented, op)
}
