// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// CredentialStore holds the storage substrate's root data key at rest
// under a passphrase-derived wrapping key. There is no OS secure
// credential store dependency available in this module's third-party
// stack, so the root key is sealed into a single 0600 file using
// scrypt (a sub-package of the already-carried golang.org/x/crypto)
// rather than stored in the clear.
type CredentialStore struct {
	path string
}

const (
	credentialMagic uint32 = 0x53434b53 // "SCKS"
	scryptN                = 1 << 15
	scryptR                = 8
	scryptP                = 1
	scryptKeyLen           = 32
	saltLen                = 16
)

// NewCredentialStore returns a store rooted at path (typically
// "<data-dir>/credential.key").
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// LoadOrCreate returns the root data key, generating and sealing a
// fresh 256-bit key under passphrase on first use.
func (cs *CredentialStore) LoadOrCreate(passphrase string) ([]byte, error) {
	if _, err := os.Stat(cs.path); err == nil {
		return cs.load(passphrase)
	}

	rootKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, rootKey); err != nil {
		return nil, fmt.Errorf("storage: generate root key: %w", err)
	}
	if err := cs.seal(rootKey, passphrase); err != nil {
		return nil, err
	}
	return rootKey, nil
}

func (cs *CredentialStore) seal(rootKey []byte, passphrase string) error {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("storage: generate salt: %w", err)
	}
	wrapKey, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("storage: derive wrap key: %w", err)
	}
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return fmt.Errorf("storage: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("storage: gcm mode: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("storage: generate nonce: %w", err)
	}

	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, credentialMagic)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, rootKey, nil)

	if dir := filepath.Dir(cs.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("storage: create credential dir: %w", err)
		}
	}
	return os.WriteFile(cs.path, out, 0o600)
}

func (cs *CredentialStore) load(passphrase string) ([]byte, error) {
	raw, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, fmt.Errorf("storage: read credential file: %w", err)
	}
	if len(raw) < 4+saltLen+12 {
		return nil, fmt.Errorf("storage: credential file too short")
	}
	if binary.BigEndian.Uint32(raw[:4]) != credentialMagic {
		return nil, fmt.Errorf("storage: credential file magic mismatch")
	}
	salt := raw[4 : 4+saltLen]
	nonce := raw[4+saltLen : 4+saltLen+12]
	ciphertext := raw[4+saltLen+12:]

	wrapKey, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("storage: derive wrap key: %w", err)
	}
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("storage: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage: gcm mode: %w", err)
	}
	rootKey, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: unseal root key (wrong passphrase or tampered file): %w", err)
	}
	return rootKey, nil
}

// Rotate reseals the root key under a new passphrase; callers must
// separately re-encrypt every envelope-protected file under a
// freshly derived key and atomically rename into place.
func (cs *CredentialStore) Rotate(rootKey []byte, newPassphrase string) error {
	return cs.seal(rootKey, newPassphrase)
}
