// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileVault applies the AEAD envelope to whole files on disk. The server
// builds one "segment" vault to seal finalized segment files and to
// verify them before retention deletes them; keyframe stills are written
// as plain JPEG files and are not sealed. Read paths fail closed: a
// tampered or truncated file surfaces ErrTamperedOrWrongKey instead of
// partial plaintext.
type FileVault struct {
	env *Envelope
}

// NewFileVault derives a purpose-scoped vault ("segment", "frame",
// "artifact") from the root key.
func NewFileVault(rootKey []byte, purpose string) (*FileVault, error) {
	env, err := NewEnvelope(rootKey, purpose)
	if err != nil {
		return nil, err
	}
	return &FileVault{env: env}, nil
}

// WriteFile seals plaintext and writes it atomically: a temp file in
// the same directory followed by rename, so readers never observe a
// half-written envelope.
func (v *FileVault) WriteFile(path string, plaintext []byte, perm os.FileMode) error {
	sealed, err := v.env.Seal(plaintext)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vault-*")
	if err != nil {
		return fmt.Errorf("storage: vault temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		closeQuietly(tmp)
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: vault write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		closeQuietly(tmp)
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: vault chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: vault close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: vault rename: %w", err)
	}
	return nil
}

// ReadFile opens a sealed file and returns its plaintext.
func (v *FileVault) ReadFile(path string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: vault read: %w", err)
	}
	return v.env.Open(sealed)
}

// SealFile converts a plaintext file to its sealed form in place,
// via atomic rename. Used by the capture session after the fast-start
// rewrite, off the encode hot path.
func (v *FileVault) SealFile(path string) error {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("storage: vault seal read: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("storage: vault seal stat: %w", err)
	}
	return v.WriteFile(path, plaintext, info.Mode().Perm())
}

// VerifyFile decrypts a sealed file and discards the plaintext,
// reporting only whether the AEAD tag authenticated. The retention
// sweep calls this before every deletion.
func (v *FileVault) VerifyFile(path string) error {
	_, err := v.ReadFile(path)
	return err
}
