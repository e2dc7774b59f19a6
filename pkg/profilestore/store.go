// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package profilestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the profiles file inside the store directory.
const FileName = "profiles.yaml"

// ErrNotFound is returned for profiles missing from the store.
var ErrNotFound = errors.New("profile not found")

// Store is a YAML file backed profile store. It is safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store in dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("error creating profile directory: %w", err)
	}

	return &Store{path: filepath.Join(dir, FileName)}, nil
}

type document struct {
	Profiles []record `yaml:"profiles"`
}

type record struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	ConfigRef       string         `yaml:"config_ref"`
	OnDemandRules   []OnDemandRule `yaml:"on_demand_rules,omitempty"`
	Generation      uint64         `yaml:"generation"`
	Enabled         bool           `yaml:"enabled"`
	OnDemandEnabled bool           `yaml:"on_demand_enabled"`
}

func toRecord(p *Profile) record {
	return record{
		ID:              p.ID.String(),
		Name:            p.Name,
		ConfigRef:       p.ConfigRef,
		OnDemandRules:   p.OnDemandRules,
		Generation:      p.Generation,
		Enabled:         p.Enabled,
		OnDemandEnabled: p.OnDemandEnabled,
	}
}

func (r record) profile() (*Profile, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("profile %q: invalid id: %w", r.Name, err)
	}

	return &Profile{
		ID:              id,
		Name:            r.Name,
		ConfigRef:       r.ConfigRef,
		OnDemandRules:   r.OnDemandRules,
		Generation:      r.Generation,
		Enabled:         r.Enabled,
		OnDemandEnabled: r.OnDemandEnabled,
	}, nil
}

func (s *Store) read() ([]*Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("error reading profiles: %w", err)
	}

	var doc document

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err = decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing profiles: %w", err)
	}

	res := make([]*Profile, 0, len(doc.Profiles))

	for _, r := range doc.Profiles {
		p, err := r.profile()
		if err != nil {
			return nil, err
		}

		res = append(res, p)
	}

	return res, nil
}

func (s *Store) write(profiles []*Profile) error {
	doc := document{Profiles: make([]record, 0, len(profiles))}

	for _, p := range profiles {
		doc.Profiles = append(doc.Profiles, toRecord(p))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("error encoding profiles: %w", err)
	}

	tmp := s.path + ".tmp"

	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("error writing profiles: %w", err)
	}

	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error writing profiles: %w", err)
	}

	return nil
}

// LoadAll returns every stored profile sorted by name.
func (s *Store) LoadAll(ctx context.Context) ([]*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return nil, err
	}

	slices.SortFunc(profiles, func(a, b *Profile) int { return strings.Compare(a.Name, b.Name) })

	return profiles, nil
}

// Save inserts or replaces the profile with the same ID. On success the generation of p is
// advanced to the stored one.
func (s *Store) Save(ctx context.Context, p *Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}

	saved := p.Clone()
	saved.Generation++

	idx := slices.IndexFunc(profiles, func(existing *Profile) bool { return existing.ID == p.ID })
	if idx >= 0 {
		saved.Generation = max(saved.Generation, profiles[idx].Generation+1)
		profiles[idx] = saved
	} else {
		profiles = append(profiles, saved)
	}

	if err = s.write(profiles); err != nil {
		return err
	}

	p.Generation = saved.Generation

	return nil
}

// Remove deletes the profile with the given ID.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(profiles, func(p *Profile) bool { return p.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.write(slices.Delete(profiles, idx, idx+1))
}

// Reload returns the stored version of the profile with the given ID.
func (s *Store) Reload(ctx context.Context, id uuid.UUID) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(profiles, func(p *Profile) bool { return p.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return profiles[idx], nil
}
