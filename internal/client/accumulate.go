package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// DeltaFunc receives each piece of response text as it arrives.
type DeltaFunc func(delta string)

// Accumulate reads the stream to the end and concatenates the response text
// of every chunk, passing each non-empty piece to onDelta if it is set.
// Chunks that do not decode are skipped. On error the text received so far
// is returned along with it.
func Accumulate(stream *EventStream, logger *zap.Logger, onDelta DeltaFunc) (string, error) {
	var sb strings.Builder
	skipped := 0
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			if skipped > 0 {
				logger.Debug("skipped undecodable chunks", zap.Int("count", skipped))
			}
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), fmt.Errorf("generation stream broke: %w", err)
		}

		var chunk generateChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			logger.Debug("skipping chunk", zap.String("data", ev.Data), zap.Error(err))
			skipped++
			continue
		}
		if chunk.Response == "" {
			continue
		}
		sb.WriteString(chunk.Response)
		if onDelta != nil {
			onDelta(chunk.Response)
		}
	}
}
