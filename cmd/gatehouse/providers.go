package main

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// buildProviders assembles the login providers and the redirect flows.
// INTERNAL, MICROSOFT_OAUTH2 and the FACEBOOK_OAUTH2 stub are always
// registered; Google needs a client id to check token audiences, so it is
// only registered when enabled.
func buildProviders(ctx context.Context, cfg config.ProvidersConfig, store *auth.Store, hasher auth.Hasher, logger *observability.Logger) ([]auth.Provider, *sso.Flows, error) {
	providers := []auth.Provider{
		auth.NewInternalProvider(store, hasher, logger),
		sso.NewMicrosoftProvider(store, logger),
		sso.NewFacebookProvider(),
	}
	var flows []sso.Flow

	if cfg.Google.Enabled {
		verifier, err := sso.NewGoogleVerifier(ctx, cfg.Google.ClientID)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, sso.NewGoogleProvider(verifier, store, logger))

		flow, err := sso.NewGoogleFlow(cfg.Google.ProviderConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("google flow: %w", err)
		}
		flows = append(flows, flow)
	}

	if cfg.Microsoft.Enabled {
		flow, err := sso.NewMicrosoftFlow(cfg.Microsoft.ProviderConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("microsoft flow: %w", err)
		}
		flows = append(flows, flow)
	}

	if cfg.Facebook.Enabled {
		logger.Warn("facebook login is not implemented; the provider answers every call with an error")
	}

	set, err := sso.NewFlows(flows...)
	if err != nil {
		return nil, nil, err
	}
	return providers, set, nil
}
