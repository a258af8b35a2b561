package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Frame is one Server-Sent Event.
type Frame struct {
	Name string
	ID   string
	Data json.RawMessage
}

// WriteFrame encodes f onto w. Data must not contain raw newlines, which
// holds for anything produced by json.Marshal.
func WriteFrame(w io.Writer, f Frame) error {
	var b strings.Builder
	if f.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", f.Name)
	}
	if f.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", f.ID)
	}
	data := f.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteComment writes an SSE comment line such as a heartbeat.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// FrameReader decodes frames from an SSE body.
type FrameReader struct {
	sc *bufio.Scanner
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &FrameReader{sc: sc}
}

// Next returns the next complete frame. Comments are skipped. Multiple data
// lines are joined with newlines. Returns io.EOF when the stream ends.
func (fr *FrameReader) Next() (Frame, error) {
	var (
		f       Frame
		data    []string
		started bool
	)
	for fr.sc.Scan() {
		line := fr.sc.Text()
		if line == "" {
			if !started {
				continue
			}
			f.Data = json.RawMessage(strings.Join(data, "\n"))
			return f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Name = value
			started = true
		case "id":
			f.ID = value
			started = true
		case "data":
			data = append(data, value)
			started = true
		}
	}
	if err := fr.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
