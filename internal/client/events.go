package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrGenerationFailed is returned when the server reports, with an error
// event, that the generation stream broke.
var ErrGenerationFailed = errors.New("generation failed")

// Event is one server-sent event. Name is empty for plain data frames.
type Event struct {
	Name string
	Data string
}

// EventStream reads server-sent events from a response body.
type EventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, reader: bufio.NewReader(body)}
}

// Next returns the next event. A stream that ends cleanly between events
// returns io.EOF. A stream cut inside an event returns io.ErrUnexpectedEOF,
// and an error event returns ErrGenerationFailed.
func (s *EventStream) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		started bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if started || line != "" {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("failed to read event stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !started {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Name == "error" {
				return ev, fmt.Errorf("%w: %s", ErrGenerationFailed, ev.Data)
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			started = true
		case "data":
			data = append(data, value)
			started = true
		}
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}
