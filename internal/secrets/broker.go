package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const (
	statusCodeNotFound  = 404
	statusCodeForbidden = 403
)

// ErrCredentialUnavailable is returned when the secret store is unreachable,
// a secret is missing, or access is denied. The failure is terminal for the
// invocation; retries belong to the webhook infrastructure.
var ErrCredentialUnavailable = errors.New("directory credential unavailable")

// Credential is the tenant-scoped directory admin identity, combined from
// two independent secret reads. It lives only for the duration of one
// provisioning invocation and must never be logged or persisted.
type Credential struct {
	Username string
	Password string
}

// SecretClient is the slice of the Key Vault client the broker uses,
// narrowed so tests can substitute a fake.
type SecretClient interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Config holds the secret store settings. The secret names are fixed by the
// deployment contract; the defaults match the documented names.
type Config struct {
	VaultURL       string        `mapstructure:"vault_url"`
	UsernameSecret string        `mapstructure:"username_secret"`
	PasswordSecret string        `mapstructure:"password_secret"`
	TokenSecret    string        `mapstructure:"token_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Broker fetches directory credentials from Azure Key Vault using the
// host's own ambient identity. No static secret material is embedded; the
// default Azure credential chain resolves managed identity, workload
// identity or developer credentials.
type Broker struct {
	client SecretClient
	config Config
}

func NewBroker(config Config) (*Broker, error) {
	if config.VaultURL == "" {
		return nil, fmt.Errorf("vault_url is required in keyvault configuration")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ambient identity: %w", err)
	}

	client, err := azsecrets.NewClient(config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key vault client: %w", err)
	}

	return NewBrokerWithClient(client, config), nil
}

// NewBrokerWithClient wires an explicit secret client; used by tests.
func NewBrokerWithClient(client SecretClient, config Config) *Broker {
	if config.UsernameSecret == "" {
		config.UsernameSecret = "DomainAdminUsername"
	}
	if config.PasswordSecret == "" {
		config.PasswordSecret = "DomainAdminPassword"
	}
	return &Broker{client: client, config: config}
}

// FetchDirectoryCredential reads the username and password secrets and
// combines them into one in-memory credential. Each invocation re-fetches;
// nothing is cached across calls.
func (b *Broker) FetchDirectoryCredential(ctx context.Context) (Credential, error) {
	username, err := b.getSecret(ctx, b.config.UsernameSecret)
	if err != nil {
		return Credential{}, err
	}

	password, err := b.getSecret(ctx, b.config.PasswordSecret)
	if err != nil {
		return Credential{}, err
	}

	return Credential{Username: username, Password: password}, nil
}

// FetchWebhookToken returns the shared webhook validation token, or an
// empty string when no token secret is configured (token checking disabled).
func (b *Broker) FetchWebhookToken(ctx context.Context) (string, error) {
	if b.config.TokenSecret == "" {
		return "", nil
	}
	return b.getSecret(ctx, b.config.TokenSecret)
}

func (b *Broker) getSecret(ctx context.Context, name string) (string, error) {
	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	resp, err := b.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.StatusCode {
			case statusCodeNotFound:
				return "", fmt.Errorf("%w: secret %s not found: %v", ErrCredentialUnavailable, name, err)
			case statusCodeForbidden:
				return "", fmt.Errorf("%w: access to secret %s denied: %v", ErrCredentialUnavailable, name, err)
			}
		}
		return "", fmt.Errorf("%w: failed to read secret %s: %v", ErrCredentialUnavailable, name, err)
	}

	if resp.Value == nil || *resp.Value == "" {
		return "", fmt.Errorf("%w: secret %s is empty", ErrCredentialUnavailable, name)
	}

	return *resp.Value, nil
}
