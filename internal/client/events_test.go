package client

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func streamOf(s string) *EventStream {
	return NewEventStream(io.NopCloser(strings.NewReader(s)))
}

func TestEventStream_Frames(t *testing.T) {
	s := streamOf(": keepalive\n\ndata: {\"a\":1}\n\nevent: note\ndata: line1\ndata: line2\n\n")

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Data: `{"a":1}`}, ev)

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Name: "note", Data: "line1\nline2"}, ev)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventStream_ErrorEvent(t *testing.T) {
	s := streamOf("data: x\n\nevent: error\ndata: {\"error\":\"Generation stream aborted\"}\n\n")

	_, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestEventStream_Truncated(t *testing.T) {
	s := streamOf("data: {\"response\":\"par")
	_, err := s.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAccumulate(t *testing.T) {
	s := streamOf(
		"data: {\"response\":\"Hel\",\"done\":false}\n\n" +
			"data: not json\n\n" +
			"data: {\"response\":\"lo\",\"done\":false}\n\n" +
			"data: {\"response\":\"\",\"done\":true}\n\n")

	var deltas []string
	text, err := Accumulate(s, zap.NewNop(), func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestAccumulate_BrokenStream(t *testing.T) {
	s := streamOf("data: {\"response\":\"Hel\"}\n\nevent: error\ndata: {}\n\n")

	text, err := Accumulate(s, zap.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationFailed))
	assert.Equal(t, "Hel", text)
}
