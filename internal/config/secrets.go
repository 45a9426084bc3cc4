package config

import (
	"errors"
	"os"
	"strings"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	keyringScheme = "keyring://"
	envScheme     = "env:"
)

// Environment variables consulted when a provider key is left empty.
var providerKeyEnv = map[string]string{
	"cohere":    "COHERE_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// webhookSecretEnv backs server.webhook_secret when the config leaves it empty.
const webhookSecretEnv = "PAGERAG_WEBHOOK_SECRET"

// LoadDotEnv loads .env files into the process environment. Missing files are ignored;
// variables already set win over the file.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return ragerr.Wrapf(err, ragerr.CodeConfigParseInvalidFormat, "load %s", p)
		}
	}
	return nil
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !strings.HasPrefix(uri, keyringScheme) {
		return "", "", ragerr.Errorf(ragerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, keyringScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ragerr.Errorf(ragerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return parts[0], parts[1], nil
}

// ResolveSecret turns a configured secret into its value. Literals pass through,
// env:NAME reads the environment and keyring://service/key reads the OS keyring.
func ResolveSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envScheme):
		name := strings.TrimPrefix(value, envScheme)
		if name == "" {
			return "", ragerr.New(ragerr.CodeSecretInvalidInput, "env: reference without a variable name")
		}
		return os.Getenv(name), nil
	case strings.HasPrefix(value, keyringScheme):
		service, key, err := ParseKeyringURI(value)
		if err != nil {
			return "", err
		}
		secret, err := keyring.Get(service, key)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", ragerr.Errorf(ragerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
			}
			return "", ragerr.Wrapf(err, ragerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
		}
		return secret, nil
	default:
		return value, nil
	}
}

// StoreSecret saves a secret in the OS keyring and returns the URI that refers to it.
func StoreSecret(service, key, value string) (string, error) {
	if service == "" || key == "" {
		return "", ragerr.New(ragerr.CodeSecretInvalidInput, "service and key must not be empty")
	}
	if err := keyring.Set(service, key, value); err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeSecretResolveFailure, "storing secret %s/%s", service, key)
	}
	return keyringScheme + service + "/" + key, nil
}

// ResolveSecrets resolves provider API keys and the webhook secret in place,
// falling back to a conventional environment variable when a value is empty.
func ResolveSecrets(cfg *Config) error {
	for _, target := range []struct {
		provider string
		key      *string
	}{
		{cfg.Embedding.Provider, &cfg.Embedding.APIKey},
		{cfg.Generation.Provider, &cfg.Generation.APIKey},
	} {
		resolved, err := ResolveSecret(*target.key)
		if err != nil {
			return err
		}
		if resolved == "" {
			if env, ok := providerKeyEnv[target.provider]; ok {
				resolved = os.Getenv(env)
			}
		}
		*target.key = resolved
	}
	secret, err := ResolveSecret(cfg.Server.WebhookSecret)
	if err != nil {
		return err
	}
	if secret == "" {
		secret = os.Getenv(webhookSecretEnv)
	}
	cfg.Server.WebhookSecret = secret
	return nil
}
