package proc

import "bytes"

// LineFramer converts a child stdout byte stream into complete lines.
// Partial trailing bytes are held until the next newline arrives. Lines are
// split on \r?\n; empty and whitespace-only lines are dropped.
type LineFramer struct {
	buf []byte
}

// Split appends chunk to the held buffer and returns every complete line
// now available. Returned slices are copies and safe to retain.
func (f *LineFramer) Split(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:i], []byte("\r"))
		f.buf = f.buf[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
	}

	// Reclaim the backing array once everything buffered was consumed,
	// so returned copies are never aliased by later appends.
	if len(f.buf) == 0 {
		f.buf = nil
	} else {
		held := make([]byte, len(f.buf))
		copy(held, f.buf)
		f.buf = held
	}
	return lines
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}
