// Package secrets stores provider API keys in the OS keyring.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service name every entry is filed under.
const Service = "clawlet"

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("secret not found")

// Store reads and writes provider keys. The zero value uses Service.
type Store struct {
	service string
}

// NewStore returns a Store for the clawlet keyring service.
func NewStore() *Store {
	return &Store{service: Service}
}

func (s *Store) svc() string {
	if s == nil || s.service == "" {
		return Service
	}
	return s.service
}

func providerUser(name string) string {
	return "provider:" + strings.ToLower(strings.TrimSpace(name))
}

// SetProviderKey stores key for the named provider, replacing any existing one.
func (s *Store) SetProviderKey(name, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty API key")
	}
	if err := keyring.Set(s.svc(), providerUser(name), key); err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}

// ProviderKey returns the stored key for the named provider.
func (s *Store) ProviderKey(name string) (string, error) {
	key, err := keyring.Get(s.svc(), providerUser(name))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", name, err)
	}
	return key, nil
}

// DeleteProviderKey removes the stored key. Deleting a missing key returns
// ErrNotFound.
func (s *Store) DeleteProviderKey(name string) error {
	err := keyring.Delete(s.svc(), providerUser(name))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("keyring delete %s: %w", name, err)
	}
	return nil
}

// Lookup returns the stored key or "" when there is none or the keyring is
// unavailable. It matches provider.KeyLookup.
func (s *Store) Lookup(name string) string {
	key, err := s.ProviderKey(name)
	if err != nil {
		return ""
	}
	return key
}
