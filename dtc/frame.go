package dtc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrTruncated is reported when the stream ends inside a frame.
var ErrTruncated = errors.New("dtc: stream ended mid-frame")

const (
	initialFrameBuf = 64 * 1024
	maxFrameSize    = 2 * 1024 * 1024
)

// ScanFrames is a bufio.SplitFunc that yields NUL-terminated frames without
// the terminator. Frames may span reads and one read may hold many frames.
// Empty frames are skipped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		i := bytes.IndexByte(data[advance:], 0)
		if i < 0 {
			break
		}
		if i == 0 {
			advance++
			continue
		}
		return advance + i + 1, data[advance : advance+i], nil
	}
	if atEOF && len(data) > advance {
		return advance, nil, ErrTruncated
	}
	return advance, nil, nil
}

// NewScanner returns a frame scanner over r sized for large order snapshots.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialFrameBuf), maxFrameSize)
	sc.Split(ScanFrames)
	return sc
}
