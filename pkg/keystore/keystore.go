// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keystore keeps tunnel configurations in the system keyring.
//
// Callers only ever see opaque references of the form "service/uuid".
package keystore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service the items are stored under.
const DefaultService = "tunnelctl"

// Errors returned by the store.
var (
	ErrNotFound     = errors.New("keychain item not found")
	ErrInvalidRef   = errors.New("invalid keychain reference")
	ErrEmptyContent = errors.New("empty keychain item")
)

// Store is a keyring backed credential store.
type Store struct {
	service string
}

// New creates a store for the given service, DefaultService if empty.
func New(service string) *Store {
	if service == "" {
		service = DefaultService
	}

	return &Store{service: service}
}

// Put stores blob as a new item and returns its reference.
func (s *Store) Put(name string, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("tunnel %q: %w", name, ErrEmptyContent)
	}

	id := uuid.NewString()

	if err := keyring.Set(s.service, id, string(blob)); err != nil {
		return "", fmt.Errorf("error storing configuration of %q: %w", name, err)
	}

	return s.service + "/" + id, nil
}

// Open returns the content of the referenced item.
func (s *Store) Open(ref string) ([]byte, error) {
	id, err := s.parse(ref)
	if err != nil {
		return nil, err
	}

	secret, err := keyring.Get(s.service, id)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", ref, err)
	}

	return []byte(secret), nil
}

// Delete removes the referenced item. Deleting a missing item is not an error.
func (s *Store) Delete(ref string) error {
	id, err := s.parse(ref)
	if err != nil {
		return err
	}

	if err = keyring.Delete(s.service, id); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("error deleting %s: %w", ref, err)
	}

	return nil
}

// Verify reports whether the reference points to an existing item.
func (s *Store) Verify(ref string) bool {
	_, err := s.Open(ref)

	return err == nil
}

func (s *Store) parse(ref string) (string, error) {
	service, id, ok := strings.Cut(ref, "/")
	if !ok || service != s.service {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	return id, nil
}
