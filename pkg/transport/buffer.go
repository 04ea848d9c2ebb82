package transport

import (
	"bytes"
	"time"
)

// rxBuffer keeps bytes read in bulk from the port until ReadByte
// consumes them.
type rxBuffer struct {
	data []byte
	pos  int
}

func (b *rxBuffer) pop() (byte, bool) {
	if b.pos >= len(b.data) {
		return 0, false
	}
	c := b.data[b.pos]
	b.pos++
	return c, true
}

func (b *rxBuffer) fill(p []byte) {
	b.data = append(b.data[:0], p...)
	b.pos = 0
}

func (b *rxBuffer) reset() {
	b.data = b.data[:0]
	b.pos = 0
}

type byteReader interface {
	ReadByte(timeout time.Duration) (byte, error)
}

// readLine accumulates bytes until terminator with one overall deadline.
func readLine(r byteReader, terminator []byte, timeout time.Duration, limit int) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var line []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return line, ErrTimeout
		}
		c, err := r.ReadByte(remaining)
		if err != nil {
			return line, err
		}
		line = append(line, c)
		if bytes.HasSuffix(line, terminator) {
			return line, nil
		}
		if limit > 0 && len(line) > limit {
			line = line[1:]
		}
	}
}
