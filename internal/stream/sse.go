package stream

import (
	"bufio"
	"io"
	"strings"
)

const maxLineBytes = 1024 * 1024

// Event is one dispatched server-sent event.
type Event struct {
	Event string
	ID    string
	Data  string
}

// EventReader frames an SSE body into events: data lines accumulate until
// a blank line, comment lines are skipped, and a trailing event without its
// blank line is still delivered at EOF.
type EventReader struct {
	sc *bufio.Scanner
}

// NewEventReader reads events from r.
func NewEventReader(r io.Reader) *EventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &EventReader{sc: sc}
}

// Next returns the next event, or io.EOF when the body is exhausted.
func (er *EventReader) Next() (Event, error) {
	var ev Event
	var data []string
	pending := false

	for er.sc.Scan() {
		line := er.sc.Text()
		if line == "" {
			if !pending {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			pending = true
		case "event":
			ev.Event = value
			pending = true
		case "id":
			ev.ID = value
		}
	}
	if err := er.sc.Err(); err != nil {
		return Event{}, err
	}
	if pending {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
