package protocol

import (
	"io"
	"sync"
)

// ConnStream adapts a blocking io.ReadWriter (a serial port or a pipe) to a Stream. A
// background reader moves incoming bytes into a buffer so that Available never blocks.
type ConnStream struct {
	rw io.ReadWriter

	mx  sync.Mutex
	buf []byte
	err error
}

var _ Stream = &ConnStream{}

// NewConnStream starts reading from rw
func NewConnStream(rw io.ReadWriter) *ConnStream {
	s := &ConnStream{rw: rw}
	go s.readLoop()
	return s
}

func (s *ConnStream) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := s.rw.Read(buf)
		s.mx.Lock()
		s.buf = append(s.buf, buf[:n]...)
		if err != nil {
			s.err = err
		}
		s.mx.Unlock()
		if err != nil {
			return
		}
	}
}

// Available implements Stream
func (s *ConnStream) Available() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.buf)
}

// ReadByte implements Stream. Once the buffer is drained the reader's error is returned.
func (s *ConnStream) ReadByte() (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.ErrNoProgress
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

// Write implements Stream
func (s *ConnStream) Write(p []byte) (int, error) {
	return s.rw.Write(p)
}

// Flush implements Stream
func (s *ConnStream) Flush() error {
	s.mx.Lock()
	s.buf = nil
	s.mx.Unlock()
	return nil
}

// Err returns the error that stopped the background reader, if any
func (s *ConnStream) Err() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.err
}

// Close closes the underlying ReadWriter if it implements io.Closer
func (s *ConnStream) Close() error {
	if closer, ok := s.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
