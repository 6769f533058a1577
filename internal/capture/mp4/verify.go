// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// VerifyFastStart walks a file's top-level boxes and reports whether
// it is a structurally complete moov-first container: every box size
// lands exactly on the next box or EOF, and moov precedes mdat. A
// file cut short by a crash mid-finalize fails here and is a
// quarantine candidate.
func VerifyFastStart(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mp4: open for verify: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mp4: stat for verify: %w", err)
	}
	size := info.Size()
	if size < 16 {
		return fmt.Errorf("mp4: file too short to hold a container header")
	}

	var offset int64
	moovAt, mdatAt := int64(-1), int64(-1)
	header := make([]byte, 8)
	for offset < size {
		if _, err := f.ReadAt(header, offset); err != nil {
			return fmt.Errorf("mp4: truncated box header at %d: %w", offset, err)
		}
		boxSize := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		if boxSize < 8 {
			return fmt.Errorf("mp4: invalid %q box size %d at %d", boxType, boxSize, offset)
		}
		if offset+boxSize > size {
			return fmt.Errorf("mp4: %q box at %d runs past EOF", boxType, offset)
		}
		switch boxType {
		case "moov":
			moovAt = offset
		case "mdat":
			mdatAt = offset
		}
		offset += boxSize
	}
	if offset != size {
		return fmt.Errorf("mp4: %d trailing bytes after last box", size-offset)
	}
	if moovAt < 0 || mdatAt < 0 {
		return fmt.Errorf("mp4: missing moov or mdat box")
	}
	if moovAt > mdatAt {
		return fmt.Errorf("mp4: moov at %d follows mdat at %d, not fast-start", moovAt, mdatAt)
	}
	return nil
}

// ReadFastStart is VerifyFastStart over an already-loaded byte slice,
// for callers that hold sealed segment plaintext in memory.
func ReadFastStart(data []byte) error {
	size := int64(len(data))
	if size < 16 {
		return fmt.Errorf("mp4: buffer too short to hold a container header")
	}
	var offset int64
	moovAt, mdatAt := int64(-1), int64(-1)
	for offset < size {
		if offset+8 > size {
			return io.ErrUnexpectedEOF
		}
		boxSize := int64(binary.BigEndian.Uint32(data[offset : offset+4]))
		boxType := string(data[offset+4 : offset+8])
		if boxSize < 8 || offset+boxSize > size {
			return fmt.Errorf("mp4: invalid %q box at %d", boxType, offset)
		}
		switch boxType {
		case "moov":
			moovAt = offset
		case "mdat":
			mdatAt = offset
		}
		offset += boxSize
	}
	if moovAt < 0 || mdatAt < 0 || moovAt > mdatAt {
		return fmt.Errorf("mp4: not a fast-start container")
	}
	return nil
}
