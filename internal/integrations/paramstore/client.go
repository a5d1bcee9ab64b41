package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	PageAccessTokenName = "page-access-token"
	VerifyTokenName     = "verify-token"
	AppSecretName       = "app-secret"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the messenger client) should depend on this interface rather
// than the concrete *Client so they remain testable without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("paramstore: get parameter %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// tokenPayload is the JSON shape secrets may be stored in.
type tokenPayload struct {
	Token string `json:"token"`
}

// DecodeToken accepts either a bare value or {"token": "..."}.
func DecodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: token is empty")
	}
	return raw, nil
}

// Name joins a parameter prefix and a parameter name.
func Name(prefix, name string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/" + name
}

// WebhookSecrets are the values the webhook boundary checks requests against.
type WebhookSecrets struct {
	VerifyToken string
	AppSecret   string
}

// LoadWebhookSecrets reads the verify token and the app secret under prefix.
// The app secret is optional; without it signatures are not checked.
func LoadWebhookSecrets(ctx context.Context, g Getter, prefix string) (WebhookSecrets, error) {
	if g == nil {
		return WebhookSecrets{}, errors.New("paramstore: getter must not be nil")
	}
	if strings.TrimSpace(prefix) == "" {
		return WebhookSecrets{}, errors.New("paramstore: parameter prefix must not be empty")
	}

	raw, err := g.GetParameter(ctx, Name(prefix, VerifyTokenName))
	if err != nil {
		return WebhookSecrets{}, fmt.Errorf("paramstore: load verify token: %w", err)
	}
	verify, err := DecodeToken(raw)
	if err != nil {
		return WebhookSecrets{}, fmt.Errorf("paramstore: load verify token: %w", err)
	}

	var secret string
	raw, err = g.GetParameter(ctx, Name(prefix, AppSecretName))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return WebhookSecrets{}, fmt.Errorf("paramstore: load app secret: %w", err)
	default:
		if secret, err = DecodeToken(raw); err != nil {
			return WebhookSecrets{}, fmt.Errorf("paramstore: load app secret: %w", err)
		}
	}
	return WebhookSecrets{VerifyToken: verify, AppSecret: secret}, nil
}
