// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// =============================================================================
// FRAME READER
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single frame (64KB).
const MaxFrameSize = 64 * 1024

// frameReader parses newline-delimited `data: <json>` frames from a
// response body. Blank lines and lines without the data prefix are not
// frames and are skipped. id:, retry:, event: and comment lines are
// ignored the same way.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	// The capped scanner buffer makes MaxFrameSize a hard limit on
	// memory: a newline-less stream fails at the cap instead of
	// buffering until it finds one.
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &frameReader{scanner: sc}
}

// next returns the payload of the next data frame.
// Returns io.EOF when the stream ends.
func (f *frameReader) next() ([]byte, error) {
	for f.scanner.Scan() {
		if data, ok := framePayload(f.scanner.Bytes()); ok {
			// The scanner reuses its buffer across lines.
			return bytes.Clone(data), nil
		}
		// Not a frame: skip and keep reading.
	}
	if err := f.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, errFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

// framePayload extracts the JSON payload from a `data: ` line.
func framePayload(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, false
	}
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[5:]), true
}
