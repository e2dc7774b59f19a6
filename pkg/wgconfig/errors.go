// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package wgconfig

import (
	"fmt"
	"strings"
)

// ParseErrorKind classifies a configuration error.
type ParseErrorKind int

// Configuration errors.
const (
	KindInvalidLine ParseErrorKind = iota + 1
	KindAttributeOutsideSection
	KindInterfaceHasUnrecognizedKey
	KindPeerHasUnrecognizedKey
	KindMultipleEntriesForKey
	KindNoInterface
	KindMultipleInterfaces
	KindInterfaceHasNoPrivateKey
	KindInterfaceHasInvalidPrivateKey
	KindInterfaceHasInvalidListenPort
	KindInterfaceHasInvalidAddress
	KindInterfaceHasInvalidDNS
	KindInterfaceHasInvalidMTU
	KindInterfaceHasInvalidObfuscation
	KindPeerHasNoPublicKey
	KindPeerHasInvalidPublicKey
	KindPeerHasInvalidPresharedKey
	KindPeerHasInvalidAllowedIP
	KindPeerHasInvalidEndpoint
	KindPeerHasInvalidPersistentKeepalive
	KindMultiplePeersWithSamePublicKey
	KindInvalidUAPI
)

var parseErrorText = map[ParseErrorKind]struct{ title, message string }{
	KindInvalidLine:                       {"Invalid line", "Invalid line: %q."},
	KindAttributeOutsideSection:           {"Invalid line", "Attribute %q is not inside an [Interface] or [Peer] section."},
	KindInterfaceHasUnrecognizedKey:       {"Invalid interface", "Interface contains unrecognized key %q."},
	KindPeerHasUnrecognizedKey:            {"Invalid peer", "Peer contains unrecognized key %q."},
	KindMultipleEntriesForKey:             {"Invalid configuration", "There should be only one entry per section for key %q."},
	KindNoInterface:                       {"Invalid configuration", "Configuration must have an [Interface] section."},
	KindMultipleInterfaces:                {"Invalid configuration", "Configuration must have only one [Interface] section."},
	KindInterfaceHasNoPrivateKey:          {"Invalid interface", "Interface's private key is required."},
	KindInterfaceHasInvalidPrivateKey:     {"Invalid interface", "Interface's private key %q must be a 32-byte key in base64 encoding."},
	KindInterfaceHasInvalidListenPort:     {"Invalid interface", "Interface's listen port %q must be between 0 and 65535, or unspecified."},
	KindInterfaceHasInvalidAddress:        {"Invalid interface", "Interface addresses must be a list of comma-separated IP addresses, optionally in CIDR notation: %q."},
	KindInterfaceHasInvalidDNS:            {"Invalid interface", "Interface's DNS servers must be a list of comma-separated IP addresses or domains: %q."},
	KindInterfaceHasInvalidMTU:            {"Invalid interface", "Interface's MTU %q must be between 0 and 65535, or unspecified."},
	KindInterfaceHasInvalidObfuscation:    {"Invalid interface", "Interface's obfuscation parameter %q is out of range."},
	KindPeerHasNoPublicKey:                {"Invalid peer", "Peer's public key is required."},
	KindPeerHasInvalidPublicKey:           {"Invalid peer", "Peer's public key %q must be a 32-byte key in base64 encoding."},
	KindPeerHasInvalidPresharedKey:        {"Invalid peer", "Peer's preshared key %q must be a 32-byte key in base64 encoding."},
	KindPeerHasInvalidAllowedIP:           {"Invalid peer", "Peer's allowed IPs must be a list of comma-separated IP addresses, optionally in CIDR notation: %q."},
	KindPeerHasInvalidEndpoint:            {"Invalid peer", "Peer's endpoint %q must be of the form 'host:port' or '[host]:port'."},
	KindPeerHasInvalidPersistentKeepalive: {"Invalid peer", "Peer's persistent keepalive %q must be between 0 and 65535, or unspecified."},
	KindMultiplePeersWithSamePublicKey:    {"Invalid configuration", "Two or more peers cannot have the same public key %q."},
	KindInvalidUAPI:                       {"Invalid runtime configuration", "Backend returned an invalid line: %q."},
}

// ParseError is a configuration error carrying the offending text.
type ParseError struct {
	Kind  ParseErrorKind
	Value string
}

// Error implements error.
func (e *ParseError) Error() string {
	return e.Message()
}

// Is matches errors of the same kind.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)

	return ok && t.Kind == e.Kind && (t.Value == "" || t.Value == e.Value)
}

// Title returns the short description of the error.
func (e *ParseError) Title() string {
	return parseErrorText[e.Kind].title
}

// Message returns the detailed description of the error.
func (e *ParseError) Message() string {
	text, ok := parseErrorText[e.Kind]
	if !ok {
		return fmt.Sprintf("configuration error %d: %q", e.Kind, e.Value)
	}

	if !strings.Contains(text.message, "%") {
		return text.message
	}

	return fmt.Sprintf(text.message, e.Value)
}
