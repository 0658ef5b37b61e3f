package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// AWS error codes that mean the secret cannot be had.
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

var (
	errSecretNotFound = errors.New("secret not found")
	errSecretEmpty    = errors.New("secret value is empty")
	errAccessDenied   = errors.New("access denied to secret")
)

// SecretsAPI is the slice of the Secrets Manager client the resolver uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSResolver reads credentials from AWS Secrets Manager. A user's key lives
// in the secret "<prefix>/<user>".
type AWSResolver struct {
	api    SecretsAPI
	prefix string
}

// NewAWSResolver loads the default AWS config and creates a resolver.
func NewAWSResolver(ctx context.Context, prefix, region string) (*AWSResolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSResolverWithAPI(secretsmanager.NewFromConfig(cfg), prefix), nil
}

// NewAWSResolverWithAPI creates a resolver over an existing client.
func NewAWSResolverWithAPI(api SecretsAPI, prefix string) *AWSResolver {
	return &AWSResolver{api: api, prefix: strings.TrimRight(prefix, "/")}
}

// Resolve returns the API key stored for user.
func (r *AWSResolver) Resolve(ctx context.Context, user string) (Credentials, error) {
	name := user
	if r.prefix != "" {
		name = r.prefix + "/" + user
	}
	value, err := r.get(ctx, name)
	if err != nil {
		return Credentials{}, domain.E(domain.ErrCredentialMissing, "Resolve", err)
	}
	key := parseAPIKey(value)
	if key == "" {
		return Credentials{}, domain.E(domain.ErrCredentialMissing, "Resolve", fmt.Errorf("%s: %w", name, errSecretEmpty))
	}
	return Credentials{User: user, APIKey: key}, nil
}

// Secret returns the raw value of the named secret.
func (r *AWSResolver) Secret(ctx context.Context, name string) (string, error) {
	value, err := r.get(ctx, name)
	if err != nil {
		return "", domain.E(domain.ErrCredentialMissing, "Secret", err)
	}
	return value, nil
}

func (r *AWSResolver) get(ctx context.Context, name string) (string, error) {
	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case resourceNotFoundException:
				return "", fmt.Errorf("%s: %w", name, errSecretNotFound)
			case accessDeniedException:
				return "", fmt.Errorf("%s: %w", name, errAccessDenied)
			}
		}
		return "", fmt.Errorf("GetSecretValue %s: %w", name, err)
	}

	switch {
	case strings.TrimSpace(aws.ToString(out.SecretString)) != "":
		return strings.TrimSpace(aws.ToString(out.SecretString)), nil
	case len(out.SecretBinary) > 0:
		return strings.TrimSpace(string(out.SecretBinary)), nil
	default:
		return "", fmt.Errorf("%s: %w", name, errSecretEmpty)
	}
}
