// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEnvelope_SealOpenRoundTrip(t *testing.T) {
	env, err := NewEnvelope(testKey(t), "test")
	require.NoError(t, err)

	plaintext := []byte("frames do not lie")
	sealed, err := env.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := env.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

// Spec property: any single-byte tamper causes read to fail.
func TestEnvelope_SingleByteTamperFails(t *testing.T) {
	env, err := NewEnvelope(testKey(t), "test")
	require.NoError(t, err)

	sealed, err := env.Seal([]byte("sensitive row data"))
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0x01
		_, err := env.Open(tampered)
		assert.Error(t, err, "byte %d flip must not decrypt", i)
	}
}

func TestEnvelope_BadMagicAndTruncation(t *testing.T) {
	env, err := NewEnvelope(testKey(t), "test")
	require.NoError(t, err)

	sealed, err := env.Seal([]byte("x"))
	require.NoError(t, err)

	bad := append([]byte(nil), sealed...)
	bad[0] = 0x00
	_, err = env.Open(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = env.Open(sealed[:10])
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestEnvelope_PurposeKeySeparation(t *testing.T) {
	key := testKey(t)
	segEnv, err := NewEnvelope(key, "segment")
	require.NoError(t, err)
	frameEnv, err := NewEnvelope(key, "frame")
	require.NoError(t, err)

	sealed, err := segEnv.Seal([]byte("segment payload"))
	require.NoError(t, err)

	_, err = frameEnv.Open(sealed)
	assert.ErrorIs(t, err, ErrTamperedOrWrongKey, "a frame-purpose key must not open a segment-purpose envelope")
}

func TestEnvelope_EmptyKeyRejected(t *testing.T) {
	_, err := NewEnvelope(nil, "test")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestEnvelope_NoncesAreUnique(t *testing.T) {
	env, err := NewEnvelope(testKey(t), "test")
	require.NoError(t, err)

	a, err := env.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := env.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b), "two seals of the same plaintext must differ (random nonce per file)")
}

func TestFileVault_WriteReadVerify(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(testKey(t), "segment")
	require.NoError(t, err)

	path := filepath.Join(dir, "seg.mp4")
	require.NoError(t, vault.WriteFile(path, []byte("mp4 bytes"), 0o600))

	// On-disk form starts with the envelope magic, not the plaintext.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "mp4 bytes")

	got, err := vault.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4 bytes"), got)

	assert.NoError(t, vault.VerifyFile(path))
}

func TestFileVault_SealFileInPlace(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(testKey(t), "segment")
	require.NoError(t, err)

	path := filepath.Join(dir, "plain.mp4")
	require.NoError(t, os.WriteFile(path, []byte("finalized segment"), 0o600))

	require.NoError(t, vault.SealFile(path))

	got, err := vault.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("finalized segment"), got)
}

func TestFileVault_VerifyDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewFileVault(testKey(t), "segment")
	require.NoError(t, err)

	path := filepath.Join(dir, "seg.mp4")
	require.NoError(t, vault.WriteFile(path, []byte("payload"), 0o600))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	assert.Error(t, vault.VerifyFile(path))
}

func TestCredentialStore_CreateAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credential.key")

	cs := NewCredentialStore(path)
	key1, err := cs.LoadOrCreate("hunter2")
	require.NoError(t, err)
	require.Len(t, key1, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key2, err := NewCredentialStore(path).LoadOrCreate("hunter2")
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "reload must return the same root key")
}

func TestCredentialStore_WrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credential.key")

	cs := NewCredentialStore(path)
	_, err := cs.LoadOrCreate("correct horse")
	require.NoError(t, err)

	_, err = NewCredentialStore(path).LoadOrCreate("battery staple")
	assert.Error(t, err)
}

func TestCredentialStore_RotateKeepsRootKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credential.key")

	cs := NewCredentialStore(path)
	key, err := cs.LoadOrCreate("old pass")
	require.NoError(t, err)

	require.NoError(t, cs.Rotate(key, "new pass"))

	got, err := NewCredentialStore(path).LoadOrCreate("new pass")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = NewCredentialStore(path).LoadOrCreate("old pass")
	assert.Error(t, err, "old passphrase must stop working after rotation")
}
