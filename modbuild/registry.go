// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package modbuild

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	// ErrDuplicateKey means a factory is already registered under the key.
	ErrDuplicateKey = errors.New("modbuild: builder key already registered")
	// ErrUnknownKey means no factory is registered under the key.
	ErrUnknownKey = errors.New("modbuild: unknown builder key")
)

// Factory creates a configured Builder.
type Factory func(opts ...Option) (*Builder, error)

// Registry maps builder keys to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f under key.
func (r *Registry) Register(key string, f Factory) error {
	if key == "" || f == nil {
		return fmt.Errorf("modbuild: register %q: empty key or nil factory", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	r.factories[key] = f

	return nil
}

// New creates a builder from the factory registered under key.
func (r *Registry) New(key string, opts ...Option) (*Builder, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	return f(opts...)
}

// Keys returns registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

// RegisterBuiltins registers the builtin CPK profiles.
func RegisterBuiltins(r *Registry) error {
	for _, p := range []Profile{CPKProfile(), LegacyCPKProfile()} {
		profile := p
		err := r.Register(profile.Name, func(opts ...Option) (*Builder, error) {
			return NewBuilder(profile, opts...)
		})
		if err != nil {
			return err
		}
	}

	return nil
}
