// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxer_MoovPrecedesMdat(t *testing.T) {
	m := NewMuxer(1920, 1080, 90000)
	m.AddSample([]byte{0x01, 0x02, 0x03}, true, 500*time.Millisecond)
	m.AddSample([]byte{0x04, 0x05}, false, 500*time.Millisecond)

	var buf bytes.Buffer
	n, err := m.Finalize(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	data := buf.Bytes()
	moovIdx := bytes.Index(data, []byte("moov"))
	mdatIdx := bytes.Index(data, []byte("mdat"))
	require.Greater(t, moovIdx, 0)
	require.Greater(t, mdatIdx, 0)
	assert.Less(t, moovIdx, mdatIdx, "moov must precede mdat for fast-start playback")
}

func TestMuxer_EmptySegmentRejected(t *testing.T) {
	m := NewMuxer(640, 480, 90000)
	var buf bytes.Buffer
	_, err := m.Finalize(&buf)
	assert.Error(t, err)
}

func TestMuxer_StcoOffsetsPointIntoMdat(t *testing.T) {
	m := NewMuxer(320, 240, 90000)
	m.AddSample([]byte{0xAA, 0xBB, 0xCC, 0xDD}, true, time.Second)
	m.AddSample([]byte{0xEE, 0xFF}, false, time.Second)

	var buf bytes.Buffer
	_, err := m.Finalize(&buf)
	require.NoError(t, err)
	data := buf.Bytes()

	mdatIdx := bytes.Index(data, []byte("mdat"))
	require.Greater(t, mdatIdx, 0)
	mdatPayloadStart := int64(mdatIdx + 4) // mdat fourcc followed immediately by payload

	stcoIdx := bytes.Index(data, []byte("stco"))
	require.Greater(t, stcoIdx, 0)
	// stco payload: version/flags(4) + entry count(4) + offsets
	entryCount := binary.BigEndian.Uint32(data[stcoIdx+8 : stcoIdx+12])
	require.Equal(t, uint32(2), entryCount)
	firstOffset := binary.BigEndian.Uint32(data[stcoIdx+12 : stcoIdx+16])
	assert.Equal(t, uint32(mdatPayloadStart), firstOffset)
}
