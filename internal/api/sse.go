package api

import (
	"bytes"
	"io"
)

// writeEvent writes one server-sent event. data is written verbatim; any
// embedded newlines are split across data lines so the frame stays intact.
func writeEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
