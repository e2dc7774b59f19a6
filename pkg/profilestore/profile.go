// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package profilestore persists tunnel profiles in a YAML file.
package profilestore

import (
	"slices"

	"github.com/google/uuid"
)

// Profile is the persisted record of one tunnel.
//
// The configuration itself lives in the credential store; ConfigRef points to it.
type Profile struct {
	Name          string
	ConfigRef     string
	OnDemandRules []OnDemandRule

	// Generation is bumped on every save; a copy with an older generation is stale.
	Generation uint64

	ID              uuid.UUID
	Enabled         bool
	OnDemandEnabled bool
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	res := *p
	res.OnDemandRules = slices.Clone(p.OnDemandRules)

	for i := range res.OnDemandRules {
		res.OnDemandRules[i].SSIDs = slices.Clone(res.OnDemandRules[i].SSIDs)
	}

	return &res
}

// OnDemandAction is the action of an on-demand rule.
type OnDemandAction string

// On-demand actions.
const (
	ActionConnect    OnDemandAction = "connect"
	ActionDisconnect OnDemandAction = "disconnect"
)

// InterfaceType restricts an on-demand rule to a kind of network.
type InterfaceType string

// Interface types.
const (
	InterfaceAny      InterfaceType = "any"
	InterfaceWiFi     InterfaceType = "wifi"
	InterfaceEthernet InterfaceType = "ethernet"
)

// OnDemandRule is evaluated by the host when on-demand activation is enabled.
type OnDemandRule struct {
	Action    OnDemandAction `yaml:"action"`
	Interface InterfaceType  `yaml:"interface,omitempty"`
	SSIDs     []string       `yaml:"ssids,omitempty"`
}
