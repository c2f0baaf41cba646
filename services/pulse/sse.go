package pulse

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent represents a Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
	Err   error // Non-nil if there was a read error
}

// ParseSSE reads SSE events from r and sends them to events. The channel is
// closed when the reader is exhausted or fails.
func ParseSSE(r io.Reader, events chan<- SSEEvent) {
	defer close(events)

	scanner := bufio.NewScanner(r)
	// span attributes can carry large request bodies
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var event SSEEvent
	var dataLines []string

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if len(dataLines) > 0 {
				event.Data = strings.Join(dataLines, "\n")
				events <- event
			}
			event = SSEEvent{}
			dataLines = nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "event":
			event.Event = value
		case "id":
			event.ID = value
		}
	}

	if len(dataLines) > 0 {
		event.Data = strings.Join(dataLines, "\n")
		events <- event
	}

	if err := scanner.Err(); err != nil {
		events <- SSEEvent{Err: err}
	}
}
