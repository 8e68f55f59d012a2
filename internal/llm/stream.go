package llm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrStreamAborted wraps transport failures that end a stream early.
var ErrStreamAborted = errors.New("generation stream aborted")

const maxChunkSize = 1 << 20

// Stream yields the backend's output one chunk at a time. A chunk is one
// newline-delimited record, returned as raw bytes without being decoded.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	err    error
}

func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReaderSize(body, 32*1024),
	}
}

// Recv returns the next chunk. It returns io.EOF once the backend has closed
// the stream cleanly, and an error wrapping ErrStreamAborted if the transport
// failed. Both are sticky.
func (s *Stream) Recv() ([]byte, error) {
	for s.err == nil {
		line, err := s.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("%w: %w", ErrStreamAborted, err)
		} else if err != nil {
			s.err = io.EOF
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			return line, nil
		}
	}
	return nil, s.err
}

func (s *Stream) readLine() ([]byte, error) {
	var buf []byte
	for {
		frag, err := s.reader.ReadSlice('\n')
		buf = append(buf, frag...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return buf, err
		}
		if len(buf) > maxChunkSize {
			return buf, fmt.Errorf("chunk exceeds %d bytes", maxChunkSize)
		}
	}
}

func (s *Stream) Close() error {
	return s.body.Close()
}
