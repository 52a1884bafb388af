package tcp

import (
	"bytes"

	apperrors "github.com/taskforge/taskforge/internal/common/errors"
)

// maxFrameSize bounds one command line. Anything larger is a protocol
// violation and kills the connection.
const maxFrameSize = 1 * 1024 * 1024

// lineFramer accumulates raw reads and pops complete newline-delimited
// frames. A read may carry a partial frame, several frames, or both; the
// framer owns the carry-over buffer between reads.
type lineFramer struct {
	buf []byte
}

// Push appends one raw read to the buffer.
func (f *lineFramer) Push(data []byte) error {
	f.buf = append(f.buf, data...)
	if len(f.buf) > maxFrameSize && !bytes.ContainsRune(f.buf, '\n') {
		return apperrors.Transport("command frame exceeds maximum size", nil)
	}
	return nil
}

// Pop removes and returns the next complete frame, or nil when no full
// frame is buffered. Empty lines are skipped.
func (f *lineFramer) Pop() []byte {
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			return nil
		}
		frame := bytes.TrimRight(f.buf[:idx], "\r")
		f.buf = f.buf[idx+1:]
		if len(frame) == 0 {
			continue
		}
		out := make([]byte, len(frame))
		copy(out, frame)
		return out
	}
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *lineFramer) Pending() int {
	return len(f.buf)
}
