package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

const doneMarker = "[DONE]"

// Decoder turns an event-stream body into text deltas. It is an io.Writer
// so the body can be fed to it in chunks of any size; a line is only
// processed once its terminating newline has arrived.
//
// Lines starting with ":" and blank lines are ignored, as is anything that
// is not a "data: " line. "data: [DONE]" ends the stream. Other data lines
// are parsed as chat completion chunks and choices[0].delta.content, when
// non-empty, is appended to the text and passed to OnDelta. Lines that do
// not parse are skipped.
type Decoder struct {
	// OnDelta, if set, is called with each content fragment.
	OnDelta func(string)

	buf  []byte
	text strings.Builder
	done bool
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Write consumes p. It never fails; input after the end marker is dropped.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.done {
		return len(p), nil
	}
	d.buf = append(d.buf, p...)
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		d.line(line)
	}
	if d.done {
		d.buf = nil
	}
	return len(p), nil
}

func (d *Decoder) line(line string) {
	line = strings.TrimSuffix(line, "\r")
	if strings.HasPrefix(line, ":") || strings.TrimSpace(line) == "" {
		return
	}
	if !strings.HasPrefix(line, "data: ") {
		return
	}
	payload := strings.TrimSpace(line[len("data: "):])
	if payload == doneMarker {
		d.done = true
		return
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}
	content := chunk.Choices[0].Delta.Content
	if content == "" {
		return
	}
	d.text.WriteString(content)
	if d.OnDelta != nil {
		d.OnDelta(content)
	}
}

// Done reports whether the end marker has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Text returns everything decoded so far.
func (d *Decoder) Text() string {
	return d.text.String()
}
