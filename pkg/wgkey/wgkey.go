// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wgkey encodes, decodes and compares WireGuard key material.
//
// Private, public and preshared keys are distinct types so that one can't be
// passed where another is expected, but all of them are 32 bytes long and share
// the base64 (wg-quick) and hex (UAPI) encodings.
package wgkey

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Len is the length of any WireGuard key in bytes.
const Len = wgtypes.KeyLen

// ErrInvalidKey is returned when key text can't be decoded into Len bytes.
var ErrInvalidKey = errors.New("invalid key")

// PrivateKey is the local Curve25519 secret.
type PrivateKey wgtypes.Key

// PublicKey identifies a peer.
type PublicKey wgtypes.Key

// PresharedKey is the optional symmetric key mixed into the handshake.
type PresharedKey wgtypes.Key

// GeneratePrivateKey returns a new random clamped private key.
func GeneratePrivateKey() (PrivateKey, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("error generating private key: %w", err)
	}

	return PrivateKey(k), nil
}

// GeneratePresharedKey returns a new random preshared key.
func GeneratePresharedKey() (PresharedKey, error) {
	k, err := wgtypes.GenerateKey()
	if err != nil {
		return PresharedKey{}, fmt.Errorf("error generating preshared key: %w", err)
	}

	return PresharedKey(k), nil
}

// ParsePrivateKey decodes a base64 private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	raw, err := decodeBase64(s)

	return PrivateKey(raw), err
}

// ParsePublicKey decodes a base64 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := decodeBase64(s)

	return PublicKey(raw), err
}

// ParsePresharedKey decodes a base64 preshared key.
func ParsePresharedKey(s string) (PresharedKey, error) {
	raw, err := decodeBase64(s)

	return PresharedKey(raw), err
}

// ParsePrivateKeyHex decodes a hex private key.
func ParsePrivateKeyHex(s string) (PrivateKey, error) {
	raw, err := decodeHex(s)

	return PrivateKey(raw), err
}

// ParsePublicKeyHex decodes a hex public key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	raw, err := decodeHex(s)

	return PublicKey(raw), err
}

// ParsePresharedKeyHex decodes a hex preshared key.
func ParsePresharedKeyHex(s string) (PresharedKey, error) {
	raw, err := decodeHex(s)

	return PresharedKey(raw), err
}

// PublicKey derives the public key of k.
func (k PrivateKey) PublicKey() PublicKey {
	return PublicKey(wgtypes.Key(k).PublicKey())
}

// Base64 returns the wg-quick representation of the key.
func (k PrivateKey) Base64() string { return wgtypes.Key(k).String() }

// Hex returns the UAPI representation of the key.
func (k PrivateKey) Hex() string { return hex.EncodeToString(k[:]) }

// Equal compares keys in constant time.
func (k PrivateKey) Equal(other PrivateKey) bool { return equal(k, other) }

// IsZero reports whether the key is all zeroes.
func (k PrivateKey) IsZero() bool { return isZero(k) }

// String hides the secret.
func (k PrivateKey) String() string { return "(hidden)" }

// Base64 returns the wg-quick representation of the key.
func (k PublicKey) Base64() string { return wgtypes.Key(k).String() }

// Hex returns the UAPI representation of the key.
func (k PublicKey) Hex() string { return hex.EncodeToString(k[:]) }

// Equal compares keys in constant time.
func (k PublicKey) Equal(other PublicKey) bool { return equal(k, other) }

// IsZero reports whether the key is all zeroes.
func (k PublicKey) IsZero() bool { return isZero(k) }

// String implements fmt.Stringer.
func (k PublicKey) String() string { return k.Base64() }

// Base64 returns the wg-quick representation of the key.
func (k PresharedKey) Base64() string { return wgtypes.Key(k).String() }

// Hex returns the UAPI representation of the key.
func (k PresharedKey) Hex() string { return hex.EncodeToString(k[:]) }

// Equal compares keys in constant time.
func (k PresharedKey) Equal(other PresharedKey) bool { return equal(k, other) }

// IsZero reports whether the key is all zeroes.
func (k PresharedKey) IsZero() bool { return isZero(k) }

// String hides the secret.
func (k PresharedKey) String() string { return "(hidden)" }

type rawKey interface {
	~[Len]byte
}

func equal[K rawKey](a, b K) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func isZero[K rawKey](k K) bool {
	var zero K

	return equal(k, zero)
}

func decodeBase64(s string) (wgtypes.Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != Len {
		return wgtypes.Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	return wgtypes.NewKey(raw)
}

func decodeHex(s string) (wgtypes.Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != Len {
		return wgtypes.Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	return wgtypes.NewKey(raw)
}
