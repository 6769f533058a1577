// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package storage's envelope.go implements the per-file AEAD envelope
// that FileVault wraps files in; the server seals finalized segment
// files with it when at-rest encryption is enabled. The columnar and
// row store files are not wrapped.
//
// Envelope layout: 4-byte magic | 12-byte nonce | ciphertext | 16-byte
// GCM tag. Tampering with any byte causes Open to fail.
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopeMagic   uint32 = 0x53435247 // "SCRG"
	envelopeKeySize        = 32
	envelopeNonceSz        = 12
)

var (
	ErrEmptyKey          = errors.New("storage: root key cannot be empty")
	ErrBadMagic          = errors.New("storage: envelope magic mismatch")
	ErrTooShort          = errors.New("storage: envelope shorter than header+tag")
	ErrTamperedOrWrongKey = errors.New("storage: AEAD authentication failed (tampered file or wrong key)")
)

// Envelope seals and opens file payloads with AES-256-GCM, deriving a
// purpose-scoped data key from a root secret via HKDF-SHA256 so a
// single root key can serve every subsystem (columnar store, row
// store, segment files, backups) with key separation between them.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope derives the AEAD key for one purpose (e.g. "columnar",
// "rowstore", "segment") from rootKey and constructs the sealer.
func NewEnvelope(rootKey []byte, purpose string) (*Envelope, error) {
	if len(rootKey) == 0 {
		return nil, ErrEmptyKey
	}

	hk := hkdf.New(sha256.New, rootKey, []byte("screenlog-envelope-salt"), []byte("envelope-v1:"+purpose))
	key := make([]byte, envelopeKeySize)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, fmt.Errorf("storage: derive envelope key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("storage: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage: gcm mode: %w", err)
	}
	return &Envelope{aead: gcm}, nil
}

// Seal encrypts plaintext and prepends the magic + nonce header.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, envelopeNonceSz)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("storage: generate nonce: %w", err)
	}

	header := make([]byte, 4+envelopeNonceSz)
	binary.BigEndian.PutUint32(header[:4], envelopeMagic)
	copy(header[4:], nonce)

	return e.aead.Seal(header, nonce, plaintext, nil), nil
}

// Open verifies the magic and AEAD tag, returning the plaintext. Any
// single-byte tamper anywhere in the envelope causes this to fail.
func (e *Envelope) Open(envelope []byte) ([]byte, error) {
	const headerLen = 4 + envelopeNonceSz
	if len(envelope) < headerLen+e.aead.Overhead() {
		return nil, ErrTooShort
	}
	if binary.BigEndian.Uint32(envelope[:4]) != envelopeMagic {
		return nil, ErrBadMagic
	}
	nonce := envelope[4:headerLen]
	ciphertext := envelope[headerLen:]

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrTamperedOrWrongKey
	}
	return plaintext, nil
}
