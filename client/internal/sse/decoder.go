// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse decodes Server-Sent Events streams.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
)

// maxLineSize bounds a single SSE line.
const maxLineSize = 1 << 20

// Event represents a Server-Sent Event.
type Event struct {
	Type  string
	Data  []byte
	ID    string
	Retry int
}

// Decoder reads events from an SSE stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a new SSE decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Decode reads the next event from the stream. It returns io.EOF when the
// stream ends without a pending event.
func (d *Decoder) Decode() (*Event, error) {
	var (
		event   Event
		data    [][]byte
		pending bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()

		// A blank line dispatches the event.
		if line == "" {
			if !pending {
				continue
			}
			event.Data = bytes.Join(data, []byte("\n"))
			return &event, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		pending = true

		switch field {
		case "event":
			event.Type = value
		case "data":
			data = append(data, []byte(value))
		case "id":
			event.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				event.Retry = n
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if pending {
		event.Data = bytes.Join(data, []byte("\n"))
		return &event, nil
	}
	return nil, io.EOF
}

// Events returns an iterator over the remaining events of the stream. The
// iterator stops after the first error, which is yielded; io.EOF is not.
func (d *Decoder) Events() iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			event, err := d.Decode()
			if err == io.EOF {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// DecodeJSON unmarshals the data of the event into v.
func (e *Event) DecodeJSON(v any) error {
	return json.Unmarshal(e.Data, v)
}
