// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package mp4 implements a minimal moov-first ("fast-start") MP4
// muxer: the moov box (with its full sample tables) is written before
// mdat so a reader never has to seek to the end of the file to begin
// playback. The container layout is simple enough to write with
// encoding/binary box primitives alone.
//
// This muxer does not implement fragmented MP4 (moof/traf/trun); the
// whole segment is buffered in memory and written as one moov + one
// mdat at Finalize, which is sufficient for the bounded segment
// durations this pipeline produces.
package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Sample is one encoded video sample appended to the track.
type Sample struct {
	Data     []byte
	Keyframe bool
	Duration time.Duration
}

// Muxer accumulates samples for a single video track and writes a
// moov-first MP4 container on Finalize.
type Muxer struct {
	width, height int
	timescale     uint32
	samples       []Sample
}

// NewMuxer builds a Muxer for one video track of the given pixel
// dimensions. timescale is ticks per second (90000 is conventional).
func NewMuxer(width, height int, timescale uint32) *Muxer {
	if timescale == 0 {
		timescale = 90000
	}
	return &Muxer{width: width, height: height, timescale: timescale}
}

// AddSample appends one encoded sample to the track in presentation order.
func (m *Muxer) AddSample(data []byte, keyframe bool, duration time.Duration) {
	m.samples = append(m.samples, Sample{Data: append([]byte(nil), data...), Keyframe: keyframe, Duration: duration})
}

// SampleCount returns the number of samples accumulated so far.
func (m *Muxer) SampleCount() int { return len(m.samples) }

func (m *Muxer) durationTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 1
	}
	ticks := uint64(d.Seconds() * float64(m.timescale))
	if ticks == 0 {
		ticks = 1
	}
	return uint32(ticks)
}

func (m *Muxer) totalDurationTicks() uint32 {
	var total uint64
	for _, s := range m.samples {
		total += uint64(m.durationTicks(s.Duration))
	}
	return uint32(total)
}

// Finalize writes ftyp, moov, then mdat to w, in that order, so the
// resulting file is moov-first. It returns the total bytes written.
func (m *Muxer) Finalize(w io.Writer) (int64, error) {
	if len(m.samples) == 0 {
		return 0, fmt.Errorf("mp4: cannot finalize a segment with zero samples")
	}

	ftyp := box("ftyp", concat(
		[]byte("isom"), be32Bytes(0x200),
		[]byte("isom"), []byte("iso2"), []byte("avc1"), []byte("mp41"),
	))

	mdatPayloadSize := 0
	for _, s := range m.samples {
		mdatPayloadSize += len(s.Data)
	}
	// mdat box header is 8 bytes for sizes that fit in uint32.
	const mdatHeaderSize = 8

	// stco entries are fixed-width uint32s regardless of the offset
	// value they hold, so moov's size does not depend on the chunk
	// offset itself: build once with a placeholder offset to learn
	// moov's length, then rebuild with the real offset now knowable.
	probe, err := m.buildMoov(0)
	if err != nil {
		return 0, err
	}
	chunkOffset := int64(len(ftyp)) + int64(len(probe)) + mdatHeaderSize

	moov, err := m.buildMoov(chunkOffset)
	if err != nil {
		return 0, err
	}
	if len(moov) != len(probe) {
		return 0, fmt.Errorf("mp4: internal error: moov size changed between probe and final build")
	}

	mdat := box("mdat", func() []byte {
		buf := make([]byte, 0, mdatPayloadSize)
		for _, s := range m.samples {
			buf = append(buf, s.Data...)
		}
		return buf
	}())

	var total int64
	for _, chunk := range [][]byte{ftyp, moov, mdat} {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("mp4: write box: %w", err)
		}
	}
	return total, nil
}

// buildMoov builds the moov box. chunkOffset is the absolute file
// offset of the first sample byte (i.e. the start of mdat's payload),
// needed to populate stco ahead of time for the moov-first layout.
func (m *Muxer) buildMoov(chunkOffset int64) ([]byte, error) {
	mvhd := box("mvhd", mvhdPayload(m.timescale, m.totalDurationTicks()))
	trak, err := m.buildTrak(chunkOffset)
	if err != nil {
		return nil, err
	}
	return box("moov", concat(mvhd, trak)), nil
}

func mvhdPayload(timescale, duration uint32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0) // version
	buf.Write([]byte{0, 0, 0})
	be(buf, 0)         // creation time
	be(buf, 0)         // modification time
	be(buf, timescale) // timescale
	be(buf, duration)  // duration
	be32w(buf, 0x00010000) // rate 1.0
	be16w(buf, 0x0100)     // volume 1.0
	buf.Write(make([]byte, 10)) // reserved
	buf.Write(identityMatrix())
	buf.Write(make([]byte, 24)) // predefined
	be(buf, 2)                  // next track ID
	return buf.Bytes()
}

func identityMatrix() []byte {
	m := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	buf := new(bytes.Buffer)
	for _, v := range m {
		be32w(buf, v)
	}
	return buf.Bytes()
}

func (m *Muxer) buildTrak(chunkOffset int64) ([]byte, error) {
	tkhd := box("tkhd", tkhdPayload(uint32(m.width), uint32(m.height), m.totalDurationTicks()))
	mdia, err := m.buildMdia(chunkOffset)
	if err != nil {
		return nil, err
	}
	return box("trak", concat(tkhd, mdia)), nil
}

func tkhdPayload(width, height, duration uint32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0x07}) // flags: enabled | in movie | in preview
	be(buf, 0)                    // creation time
	be(buf, 0)                    // modification time
	be(buf, 1)                    // track ID
	be(buf, 0)                    // reserved
	be(buf, duration)
	buf.Write(make([]byte, 8))  // reserved
	be16w(buf, 0)               // layer
	be16w(buf, 0)               // alternate group
	be16w(buf, 0)               // volume (0 for video)
	be16w(buf, 0)               // reserved
	buf.Write(identityMatrix())
	be32w(buf, width<<16)
	be32w(buf, height<<16)
	return buf.Bytes()
}

func (m *Muxer) buildMdia(chunkOffset int64) ([]byte, error) {
	mdhd := box("mdhd", mdhdPayload(m.timescale, m.totalDurationTicks()))
	hdlr := box("hdlr", hdlrPayload())
	minf, err := m.buildMinf(chunkOffset)
	if err != nil {
		return nil, err
	}
	return box("mdia", concat(mdhd, hdlr, minf)), nil
}

func mdhdPayload(timescale, duration uint32) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 0)
	be(buf, 0)
	be(buf, timescale)
	be(buf, duration)
	be16w(buf, 0x55c4) // language "und"
	be16w(buf, 0)
	return buf.Bytes()
}

func hdlrPayload() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 0)
	buf.WriteString("vide")
	buf.Write(make([]byte, 12))
	buf.WriteString("ScreenlogVideoHandler")
	buf.WriteByte(0)
	return buf.Bytes()
}

func (m *Muxer) buildMinf(chunkOffset int64) ([]byte, error) {
	vmhd := box("vmhd", []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0})
	dinf := box("dinf", box("dref", drefPayload()))
	stbl, err := m.buildStbl(chunkOffset)
	if err != nil {
		return nil, err
	}
	return box("minf", concat(vmhd, dinf, stbl)), nil
}

func drefPayload() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 1) // entry count
	buf.Write(box("url ", []byte{0, 0, 0, 1}))
	return buf.Bytes()
}

func (m *Muxer) buildStbl(chunkOffset int64) ([]byte, error) {
	stsd := box("stsd", m.stsdPayload())
	stts := box("stts", m.sttsPayload())
	stss := box("stss", m.stssPayload())
	stsc := box("stsc", stscPayload())
	stsz := box("stsz", m.stszPayload())
	stco := box("stco", m.stcoPayload(chunkOffset))
	return box("stbl", concat(stsd, stts, stss, stsc, stsz, stco)), nil
}

// stsdPayload emits a single avc1-tagged sample entry. The avcC box
// carries no real SPS/PPS (the reference encoder does not produce a
// decodable bitstream); this makes the file structurally valid and
// parseable by box-walking tools without being playable by a real
// H.264 decoder.
func (m *Muxer) stsdPayload() []byte {
	entry := new(bytes.Buffer)
	entry.Write(make([]byte, 6)) // reserved
	be16w(entry, 1)              // data reference index
	entry.Write(make([]byte, 16))
	be16w(entry, uint16(m.width))
	be16w(entry, uint16(m.height))
	be32w(entry, 0x00480000) // horiz resolution 72dpi
	be32w(entry, 0x00480000) // vert resolution 72dpi
	be32w(entry, 0)          // reserved
	be16w(entry, 1)          // frame count
	entry.Write(make([]byte, 32)) // compressor name
	be16w(entry, 0x18)             // depth
	be16w(entry, 0xffff)           // predefined

	avcC := box("avcC", []byte{1, 0x64, 0, 0x1f, 0xff, 0xe0, 0, 0xe1, 0, 0})
	entry.Write(avcC)
	avc1 := box("avc1", entry.Bytes())

	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 1) // entry count
	buf.Write(avc1)
	return buf.Bytes()
}

func (m *Muxer) sttsPayload() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, uint32(len(m.samples)))
	for _, s := range m.samples {
		be(buf, 1)
		be(buf, m.durationTicks(s.Duration))
	}
	return buf.Bytes()
}

func (m *Muxer) stssPayload() []byte {
	var syncs []uint32
	for i, s := range m.samples {
		if s.Keyframe {
			syncs = append(syncs, uint32(i+1))
		}
	}
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, uint32(len(syncs)))
	for _, idx := range syncs {
		be(buf, idx)
	}
	return buf.Bytes()
}

func stscPayload() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 1) // entry count
	be(buf, 1) // first chunk
	be(buf, 1) // samples per chunk (one sample per chunk)
	be(buf, 1) // sample description index
	return buf.Bytes()
}

func (m *Muxer) stszPayload() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, 0) // sample size (0 = table follows)
	be(buf, uint32(len(m.samples)))
	for _, s := range m.samples {
		be(buf, uint32(len(s.Data)))
	}
	return buf.Bytes()
}

// stcoPayload emits one chunk offset per sample (one sample per
// chunk, matching the stsc table above), each offset relative to the
// start of the file.
func (m *Muxer) stcoPayload(chunkOffset int64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0})
	be(buf, uint32(len(m.samples)))
	offset := chunkOffset
	for _, s := range m.samples {
		be(buf, uint32(offset))
		offset += int64(len(s.Data))
	}
	return buf.Bytes()
}

func box(boxType string, payload []byte) []byte {
	buf := new(bytes.Buffer)
	be32w(buf, uint32(8+len(payload)))
	buf.WriteString(boxType)
	buf.Write(payload)
	return buf.Bytes()
}

func concat(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func be(buf *bytes.Buffer, v uint32) { be32w(buf, v) }

func be32w(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func be16w(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func be32Bytes(v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return tmp[:]
}
