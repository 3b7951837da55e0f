// Package config loads gatehouse configuration from environment variables.
//
// # Overview
//
// Every setting has a GATEHOUSE_ prefixed variable and a default. Variables
// missing from the process environment are filled from a .env file
// (GATEHOUSE_ENV_FILE, default ".env") before defaults apply.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_SECURE_COOKIES="true"
//
// Database and Redis:
//
//	GATEHOUSE_DATABASE_URL="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_DATABASE_MAX_CONNS="20"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"  # optional
//	GATEHOUSE_REDIS_LIVENESS_TTL="5m"
//
// Tokens:
//
//	GATEHOUSE_JWT_SECRET="..."  # required
//	GATEHOUSE_ACCESS_TOKEN_TTL="1h"
//	GATEHOUSE_REFRESH_TOKEN_TTL="2h"
//	GATEHOUSE_TOKEN_SWEEP_SCHEDULE="*/15 * * * *"
//
// Providers are enabled per provider (GATEHOUSE_GOOGLE_ENABLED,
// GATEHOUSE_GOOGLE_CLIENT_ID, ...) or listed in a YAML file named by
// GATEHOUSE_PROVIDERS_FILE, which takes precedence:
//
//	providers:
//	  google:
//	    enabled: true
//	    client_id: 1234.apps.googleusercontent.com
//	    client_secret: ...
//	    redirect_url: https://auth.example.com/auth/oauth2/google/callback
//	  microsoft:
//	    enabled: true
//	    tenant: common
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database and Redis configuration
//   - pkg/observability: Uses observability configuration
package config
