// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/watchtower/screenlog/internal/capture/mp4"
	"github.com/watchtower/screenlog/internal/logging"
	"github.com/watchtower/screenlog/internal/metrics"
)

// SegmentOpener reads a possibly-sealed segment file back to
// plaintext; implemented by storage.FileVault. Nil means segments are
// stored plaintext and verified directly.
type SegmentOpener interface {
	ReadFile(path string) ([]byte, error)
}

// RecoverResult summarizes one startup recovery pass.
type RecoverResult struct {
	Checked     int
	Quarantined int
}

// RecoverSegments scans the segment directory on startup for files a
// crash left behind in a broken state: truncated containers, files
// whose boxes run past EOF, or sealed files that fail authentication.
// Broken files are quarantined (renamed), never deleted, so a repair
// attempt with external tooling stays possible. Healthy files are
// untouched.
func RecoverSegments(dir string, opener SegmentOpener) (RecoverResult, error) {
	var res RecoverResult
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("capture: scan segment dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		res.Checked++

		var verifyErr error
		if opener != nil {
			plaintext, err := opener.ReadFile(path)
			if err != nil {
				verifyErr = err
			} else {
				verifyErr = mp4.ReadFastStart(plaintext)
			}
		} else {
			verifyErr = mp4.VerifyFastStart(path)
		}
		if verifyErr == nil {
			continue
		}

		logging.Warn().Err(verifyErr).Str("path", path).Msg("capture: segment failed startup verification, quarantining")
		metrics.RecordSegmentQuarantined()
		if err := os.Rename(path, path+".quarantined"); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", path).Msg("capture: quarantine rename failed")
			continue
		}
		res.Quarantined++
	}
	return res, nil
}
