// Package sse handles the upstream engine's chunked event-stream wire format:
// newline-delimited frames carrying "data: "-prefixed JSON payloads, terminated
// by a [DONE] sentinel. Framing is kept separate from event classification so
// that line reassembly can be tested independently of signal extraction.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

const (
	// dataPrefix marks lines that carry an event payload.
	dataPrefix = "data: "

	// doneLiteral is the terminal sentinel payload.
	doneLiteral = "[DONE]"
)

// Frame is one complete line of the stream that carried a payload.
// Data holds the bytes after the "data: " prefix; Done is true for the
// terminal sentinel, in which case Data is empty.
type Frame struct {
	Data []byte
	Done bool
}

// Scanner reads frames from a chunked stream. Partial lines spanning chunk
// boundaries are reassembled by the underlying buffered reader; a frame is
// only ever yielded once its full line has arrived.
type Scanner struct {
	r    *bufio.Reader
	done bool
}

// NewScanner creates a Scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		// Workflow node outputs can be large; allow frames up to 1 MiB.
		r: bufio.NewReaderSize(r, 64*1024),
	}
}

// Next returns the next payload-bearing frame. Lines without the data prefix
// (blank separators, comment/event lines) are skipped. Returns io.EOF after
// the [DONE] sentinel has been yielded or the transport closes.
func (s *Scanner) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF && len(line) == 0 {
				return Frame{}, io.EOF
			}
			if err != io.EOF {
				return Frame{}, err
			}
		}

		line = bytes.TrimRight(line, "\r\n")
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			continue
		}

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			continue
		}

		if string(payload) == doneLiteral {
			s.done = true
			return Frame{Done: true}, nil
		}

		return Frame{Data: payload}, nil
	}
}

// readLine reads a full line, growing across internal buffer boundaries.
func (s *Scanner) readLine() ([]byte, error) {
	var full []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		full = append(full, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return full, err
	}
}
