// Package store provides the persistent credential store: a small string
// key/value interface with keychain, file, memory and redis backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusconnect/campus-cli/internal/config"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("store: key not found")

// KV is an asynchronous-style string store. Implementations must be safe
// for concurrent use within a process.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	RemoveMany(ctx context.Context, keys ...string) error
}

// Prefixed namespaces every key of kv under prefix, so sessions for
// different backends never collide in one store.
type Prefixed struct {
	kv     KV
	prefix string
}

// NewPrefixed wraps kv. An empty prefix returns a pass-through wrapper.
func NewPrefixed(kv KV, prefix string) *Prefixed {
	return &Prefixed{kv: kv, prefix: prefix}
}

func (p *Prefixed) key(k string) string {
	if p.prefix == "" {
		return k
	}
	return p.prefix + "::" + k
}

func (p *Prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.kv.Get(ctx, p.key(key))
}

func (p *Prefixed) Set(ctx context.Context, key, value string) error {
	return p.kv.Set(ctx, p.key(key), value)
}

func (p *Prefixed) Remove(ctx context.Context, key string) error {
	return p.kv.Remove(ctx, p.key(key))
}

func (p *Prefixed) RemoveMany(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.key(k)
	}
	return p.kv.RemoveMany(ctx, full...)
}

// Unwrap returns the underlying store.
func (p *Prefixed) Unwrap() KV {
	return p.kv
}

// Backend names the backend behind kv for status output.
func Backend(kv KV) string {
	switch s := kv.(type) {
	case *Prefixed:
		return Backend(s.kv)
	case *Memory:
		return config.StoreMemory
	case *File:
		return config.StoreFile
	case *Keyring:
		return config.StoreKeyring
	case *Redis:
		return config.StoreRedis
	default:
		return fmt.Sprintf("%T", kv)
	}
}

// Origin turns a base URL into a store namespace of host and port.
func Origin(baseURL string) string {
	o := strings.TrimSuffix(baseURL, "/")
	o = strings.TrimPrefix(o, "https://")
	o = strings.TrimPrefix(o, "http://")
	return o
}

// Open builds the store selected by cfg, namespaced by the configured origin.
//
// "auto" prefers the system keychain and falls back to a plaintext file with
// a warning. When the keychain is chosen, any leftover plaintext credentials
// are migrated into it.
func Open(ctx context.Context, cfg *config.Config) (KV, error) {
	fileDir := filepath.Join(cfg.CacheDir, "credentials")

	var kv KV
	switch cfg.Store {
	case config.StoreMemory:
		kv = NewMemory()
	case config.StoreFile:
		kv = NewFile(fileDir)
	case config.StoreKeyring:
		kr := NewKeyring(ServiceName)
		if err := kr.Probe(); err != nil {
			return nil, fmt.Errorf("system keyring unavailable: %w", err)
		}
		kv = kr
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis at %s unreachable: %w", cfg.RedisAddr, err)
		}
		kv = NewRedis(client, "campus:")
	default:
		kr := NewKeyring(ServiceName)
		file := NewFile(fileDir)
		if err := kr.Probe(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n", file.Path())
			kv = file
			break
		}
		if err := MigrateToKeyring(ctx, file, kr); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		kv = kr
	}

	return NewPrefixed(kv, Origin(cfg.BaseURL)), nil
}
