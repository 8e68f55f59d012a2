package llm

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data string
	err  error
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, f.err
}

func (f *failingReader) Close() error { return nil }

func collect(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var chunks []string
	for {
		chunk, err := s.Recv()
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, string(chunk))
	}
}

func TestStream_Lines(t *testing.T) {
	body := "{\"response\":\"Hel\"}\n\n{\"response\":\"lo\"}\r\n{\"done\":true}"
	s := NewStream(io.NopCloser(strings.NewReader(body)))

	chunks, err := collect(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{`{"response":"Hel"}`, `{"response":"lo"}`, `{"done":true}`}, chunks)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF, "end of stream is sticky")
}

func TestStream_PassesInvalidJSONThrough(t *testing.T) {
	s := NewStream(io.NopCloser(strings.NewReader("not json at all\n")))
	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "not json at all", string(chunk))
}

func TestStream_Aborted(t *testing.T) {
	reset := errors.New("connection reset by peer")
	s := NewStream(&failingReader{data: "{\"response\":\"a\"}\n{\"resp", err: reset})

	chunks, err := collect(t, s)
	assert.Equal(t, []string{`{"response":"a"}`, `{"resp`}, chunks)
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.ErrorIs(t, err, reset)
}

func TestStream_LongLine(t *testing.T) {
	long := strings.Repeat("x", 100*1024)
	s := NewStream(io.NopCloser(strings.NewReader(long + "\n")))
	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Len(t, chunk, len(long))
}
