package protocol

import (
	"bytes"
	"io"
	"sync"
)

// BufferStream is an in-memory Stream. Bytes queued with Feed are read by the firmware
// and everything the firmware writes is collected for inspection.
type BufferStream struct {
	mx  sync.Mutex
	in  []byte
	out bytes.Buffer
}

var _ Stream = &BufferStream{}

// NewBufferStream returns a stream with input already queued
func NewBufferStream(input []byte) *BufferStream {
	return &BufferStream{in: append([]byte(nil), input...)}
}

// Feed queues more input
func (b *BufferStream) Feed(p []byte) {
	b.mx.Lock()
	b.in = append(b.in, p...)
	b.mx.Unlock()
}

// Available implements Stream
func (b *BufferStream) Available() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.in)
}

// ReadByte implements Stream
func (b *BufferStream) ReadByte() (byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.in) == 0 {
		return 0, io.EOF
	}
	c := b.in[0]
	b.in = b.in[1:]
	return c, nil
}

// Write implements Stream
func (b *BufferStream) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.out.Write(p)
}

// Flush implements Stream
func (b *BufferStream) Flush() error {
	b.mx.Lock()
	b.in = nil
	b.mx.Unlock()
	return nil
}

// Output returns a copy of everything written so far
func (b *BufferStream) Output() []byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]byte(nil), b.out.Bytes()...)
}

// Frames parses everything written so far into response frames
func (b *BufferStream) Frames() ([]Frame, error) {
	var frames []Frame
	for _, line := range bytes.SplitAfter(b.Output(), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		f, err := ParseFrame(line)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
