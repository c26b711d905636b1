package channel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Frame markers. Each sits on its own CRLF-terminated line.
const (
	StartMarker = "------ ENCRYPTED ------"
	EndMarker   = "------ END ------"
)

// MaxFrameSize bounds how much a receiver buffers while waiting for the end
// marker of a frame.
const MaxFrameSize = 64 * 1024

const crlf = "\r\n"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrDecrypt        = errors.New("cannot decrypt frame")
)

// EncodeFrame wraps base64 chunks into the wire frame.
func EncodeFrame(chunks []string) []byte {
	var b bytes.Buffer
	b.WriteString(StartMarker + crlf)
	for _, c := range chunks {
		b.WriteString(c)
		b.WriteString(crlf)
	}
	b.WriteString(EndMarker + crlf)
	return b.Bytes()
}

// IsFrame reports whether raw starts like an encrypted frame.
func IsFrame(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte(StartMarker))
}

// splitFrame finds the end of the first frame in raw. It returns the frame
// (markers included), whatever follows it, and false if the end marker has
// not arrived yet.
func splitFrame(raw []byte) (frame, rest []byte, complete bool) {
	idx := bytes.Index(raw, []byte(EndMarker))
	if idx < 0 {
		return nil, nil, false
	}
	end := idx + len(EndMarker)
	switch {
	case bytes.HasPrefix(raw[end:], []byte(crlf)):
		end += len(crlf)
	case bytes.HasPrefix(raw[end:], []byte("\n")):
		end++
	}
	return raw[:end], raw[end:], true
}

// frameChunks extracts the base64 chunk lines of a complete frame.
func frameChunks(frame []byte) ([]string, error) {
	lines := strings.Split(string(frame), "\n")
	var chunks []string
	started, ended := false, false
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			continue
		case line == StartMarker:
			started = true
		case line == EndMarker:
			ended = true
		case !started:
			return nil, fmt.Errorf("%w: data before start marker", ErrMalformedFrame)
		case ended:
			return nil, fmt.Errorf("%w: data after end marker", ErrMalformedFrame)
		default:
			chunks = append(chunks, line)
		}
	}
	if !started || !ended {
		return nil, fmt.Errorf("%w: missing marker", ErrMalformedFrame)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrMalformedFrame)
	}
	return chunks, nil
}
