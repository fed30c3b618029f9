package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keychain service every entry is stored under.
const ServiceName = "campus"

// Keyring stores each key as its own entry in the system keychain.
type Keyring struct {
	service string
}

// NewKeyring creates a keychain store for service.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Probe checks that the keychain accepts writes.
func (k *Keyring) Probe() error {
	testKey := k.service + "::test"
	if err := keyring.Set(k.service, testKey, "test"); err != nil {
		return err
	}
	_ = keyring.Delete(k.service, testKey) // Best-effort cleanup
	return nil
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Remove(_ context.Context, key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) RemoveMany(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := k.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MigrateToKeyring moves plaintext credentials from file into kr and removes
// the file once every entry has been copied.
func MigrateToKeyring(ctx context.Context, file *File, kr *Keyring) error {
	all, err := file.Entries(ctx)
	if err != nil || len(all) == 0 {
		return nil //nolint:nilerr // No file to migrate is not an error
	}

	for key, value := range all {
		if err := kr.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", key, err)
		}
	}

	return file.Delete(ctx)
}
