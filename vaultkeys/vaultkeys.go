// Package vaultkeys loads piifield key material from a HashiCorp Vault KV v2
// secret holding two hex-encoded fields, encryption_key and index_key.
// Token and AppRole authentication are supported.
//
//	vault kv put secret/piifield/clinical \
//	    encryption_key=$(openssl rand -hex 32) \
//	    index_key=$(openssl rand -hex 32)
package vaultkeys

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"

	"github.com/ai8future/piifield"
)

// Secret field names.
const (
	FieldEncryptionKey = "encryption_key"
	FieldIndexKey      = "index_key"
)

// Source is a piifield.KeySource backed by a Vault KV v2 secret.
type Source struct {
	client *api.Client
	mount  string
	path   string
}

// New returns a Source reading mount/path through client.
func New(client *api.Client, mount, path string) *Source {
	return &Source{client: client, mount: mount, path: path}
}

// NewFromEnv creates a Vault client from the standard VAULT_* environment
// (VAULT_ADDR, VAULT_NAMESPACE and the TLS settings VAULT_CACERT, VAULT_CAPATH,
// VAULT_CLIENT_CERT, VAULT_CLIENT_KEY and VAULT_SKIP_VERIFY) and returns a
// Source for mount/path.
//
// Authentication uses VAULT_TOKEN when set, otherwise an AppRole login with
// VAULT_ROLE_ID and VAULT_SECRET_ID.
func NewFromEnv(mount, path string) (*Source, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("%w: vault environment: %v", piifield.ErrFatalConfiguration, config.Error)
	}
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		config.Address = addr
	}
	if config.Address == "" {
		return nil, fmt.Errorf("%w: VAULT_ADDR environment variable is required", piifield.ErrFatalConfiguration)
	}
	// Keep the TLS settings DefaultConfig read from the environment.
	if transport, ok := config.HttpClient.Transport.(*http.Transport); ok {
		transport.Proxy = http.ProxyFromEnvironment
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: create vault client: %v", piifield.ErrFatalConfiguration, err)
	}
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}

	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
		return New(client, mount, path), nil
	}

	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return nil, fmt.Errorf("%w: no vault authentication configured (set VAULT_TOKEN or VAULT_ROLE_ID and VAULT_SECRET_ID)",
			piifield.ErrFatalConfiguration)
	}
	resp, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: approle login: %v", piifield.ErrFatalConfiguration, err)
	}
	if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
		return nil, fmt.Errorf("%w: approle login returned no token", piifield.ErrFatalConfiguration)
	}
	client.SetToken(resp.Auth.ClientToken)

	return New(client, mount, path), nil
}

// LoadKeys implements piifield.KeySource.
func (s *Source) LoadKeys(ctx context.Context) (*piifield.Keys, error) {
	secret, err := s.client.KVv2(s.mount).Get(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s/%s: %v", piifield.ErrFatalConfiguration, s.mount, s.path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: secret %s/%s is empty", piifield.ErrFatalConfiguration, s.mount, s.path)
	}

	enc, err := stringField(secret.Data, FieldEncryptionKey)
	if err != nil {
		return nil, err
	}
	idx, err := stringField(secret.Data, FieldIndexKey)
	if err != nil {
		return nil, err
	}
	return piifield.ParseHexKeys(enc, idx)
}

func stringField(data map[string]interface{}, name string) (string, error) {
	raw, ok := data[name]
	if !ok {
		return "", fmt.Errorf("%w (%s)", piifield.ErrMissingKey, name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w (%s)", piifield.ErrInvalidKeyEncoding, name)
	}
	return s, nil
}

var _ piifield.KeySource = (*Source)(nil)
