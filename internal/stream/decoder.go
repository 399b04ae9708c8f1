// Package stream decodes the line-framed token stream of the chat endpoint. Each line is either
// empty or "data: <token>"; end of body ends the stream.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode"

	xunicode "golang.org/x/text/encoding/unicode"
)

// Token is one streamed fragment together with the text accumulated so far.
type Token struct {
	Text string
	// Accumulated is the display form of everything received, including Text.
	Accumulated string
}

// Decoder turns a response body into Tokens. It is not safe for concurrent use.
type Decoder struct {
	r       io.Reader
	buf     []byte
	pending []byte
	acc     strings.Builder

	received int64
	maxBytes int64
	sentinel string
}

// ReadError reports that the stream broke before it ended cleanly. Text accumulated up to that
// point stays valid.
type ReadError struct {
	Err error
}

// Option configures a Decoder.
type Option func(*Decoder)

const (
	dataPrefix       = "data: "
	defaultChunkSize = 4096
)

// ErrResponseTooLarge is wrapped in a ReadError once a stream exceeds its byte bound.
var ErrResponseTooLarge = errors.New("stream exceeds maximum response size")

// WithMaxBytes bounds the decoded size of a stream. Zero or negative means unbounded.
func WithMaxBytes(n int64) Option {
	return func(d *Decoder) {
		d.maxBytes = n
	}
}

// WithEndSentinel makes a token equal to s end the stream without being emitted.
func WithEndSentinel(s string) Option {
	return func(d *Decoder) {
		d.sentinel = s
	}
}

// WithChunkSize sets how many bytes are read from the body at a time.
func WithChunkSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.buf = make([]byte, n)
		}
	}
}

// NewDecoder reads r through a UTF-8 decoder that keeps partial multi-byte sequences across
// reads and replaces invalid bytes with U+FFFD.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:   xunicode.UTF8BOM.NewDecoder().Reader(r),
		buf: make([]byte, defaultChunkSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Text returns the accumulated text in display form.
func (d *Decoder) Text() string {
	return strings.TrimRightFunc(d.acc.String(), unicode.IsSpace)
}

// Tokens yields tokens in stream order. The sequence ends after the body is exhausted, after
// the end sentinel, or after yielding a *ReadError.
func (d *Decoder) Tokens() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		for {
			n, err := d.r.Read(d.buf)
			if n > 0 {
				d.received += int64(n)
				if d.maxBytes > 0 && d.received > d.maxBytes {
					yield(Token{}, &ReadError{Err: ErrResponseTooLarge})
					return
				}
				d.pending = append(d.pending, d.buf[:n]...)

				for {
					i := bytes.IndexByte(d.pending, '\n')
					if i < 0 {
						break
					}
					line := d.pending[:i]
					d.pending = d.pending[i+1:]

					tok, ok, end := d.line(line)
					if end {
						return
					}
					if ok && !yield(tok, nil) {
						return
					}
				}
			}

			if errors.Is(err, io.EOF) {
				// An unterminated last line is still a real event.
				if len(d.pending) > 0 {
					tok, ok, end := d.line(d.pending)
					d.pending = nil
					if ok && !end {
						yield(tok, nil)
					}
				}
				return
			}
			if err != nil {
				yield(Token{}, &ReadError{Err: err})
				return
			}
		}
	}
}

// line handles one complete line. ok reports a token, end reports the sentinel.
func (d *Decoder) line(line []byte) (tok Token, ok bool, end bool) {
	s := strings.TrimSuffix(string(line), "\r")
	payload, found := strings.CutPrefix(s, dataPrefix)
	if !found || strings.TrimSpace(payload) == "" {
		return Token{}, false, false
	}
	if d.sentinel != "" && strings.TrimSpace(payload) == d.sentinel {
		return Token{}, false, true
	}

	// The separating space stays in the accumulator so the next token concatenates correctly.
	d.acc.WriteString(payload)
	d.acc.WriteByte(' ')

	return Token{Text: payload, Accumulated: d.Text()}, true, false
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("error reading stream: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
