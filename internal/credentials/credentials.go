// Package credentials resolves the secrets a sync run needs: per-user
// Splitwise API keys and auxiliary tokens such as the Notion integration key.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// Providers.
const (
	ProviderEnv = "env"
	ProviderAWS = "aws"
)

// Credentials authenticate one user against the source API.
type Credentials struct {
	User   string
	APIKey string
}

// Resolver looks up credentials. Every failure it returns matches
// domain.ErrCredentialMissing.
type Resolver interface {
	Resolve(ctx context.Context, user string) (Credentials, error)
	Secret(ctx context.Context, name string) (string, error)
}

// New builds the resolver selected by cfg.Provider.
func New(ctx context.Context, cfg config.CredentialsConfig) (Resolver, error) {
	switch cfg.Provider {
	case "", ProviderEnv:
		return NewEnvResolver(), nil
	case ProviderAWS:
		return NewAWSResolver(ctx, cfg.SecretPrefix, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown credentials provider %q", cfg.Provider)
	}
}

// parseAPIKey accepts either {"api_key": "..."} or the bare key.
func parseAPIKey(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		var payload struct {
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal([]byte(value), &payload); err == nil {
			return strings.TrimSpace(payload.APIKey)
		}
		return ""
	}
	return value
}

// EnvResolver reads credentials from the process environment.
// A user's key is SPLITWISE_API_KEY_<USER>, falling back to SPLITWISE_API_KEY.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver creates a resolver over os.LookupEnv.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// Resolve returns the API key for user.
func (r *EnvResolver) Resolve(ctx context.Context, user string) (Credentials, error) {
	for _, name := range []string{"SPLITWISE_API_KEY_" + envName(user), "SPLITWISE_API_KEY"} {
		if v, ok := r.lookup(name); ok {
			if key := parseAPIKey(v); key != "" {
				return Credentials{User: user, APIKey: key}, nil
			}
		}
	}
	return Credentials{}, domain.E(domain.ErrCredentialMissing, "Resolve", fmt.Errorf("no API key in environment for user %q", user))
}

// Secret returns the value of the environment variable named after name.
func (r *EnvResolver) Secret(ctx context.Context, name string) (string, error) {
	v, ok := r.lookup(envName(name))
	if !ok || strings.TrimSpace(v) == "" {
		return "", domain.E(domain.ErrCredentialMissing, "Secret", fmt.Errorf("%s is not set", envName(name)))
	}
	return strings.TrimSpace(v), nil
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, s)
}
