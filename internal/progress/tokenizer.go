package progress

import (
	"bytes"
	"errors"
	"io"
)

const readChunkSize = 4096

// Terminator tells how an update was closed on the wire.
type Terminator int

const (
	// TerminatorCR marks an in-place repaint of the current terminal line, or
	// any line written through a pty, which ends lines with CRLF.
	TerminatorCR Terminator = iota
	// TerminatorLF marks a finished line (file names, summaries, errors).
	TerminatorLF
)

func (t Terminator) String() string {
	if t == TerminatorCR {
		return "CR"
	}
	return "LF"
}

// Update is one logical piece of output produced by the transfer tool.
type Update struct {
	Text       string
	Terminator Terminator
}

// Tokenizer frames raw output into updates. A CR closes an update at once;
// the LF of a CRLF pair, as written by a pty line discipline, then closes an
// empty segment and yields nothing, also when it arrives in the next chunk.
type Tokenizer struct {
	pending []byte
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Feed consumes the next chunk and returns every update completed by it.
func (t *Tokenizer) Feed(chunk []byte) []Update {
	var updates []Update
	for _, b := range chunk {
		switch b {
		case '\r':
			updates = t.emit(updates, TerminatorCR)
		case '\n':
			updates = t.emit(updates, TerminatorLF)
		default:
			t.pending = append(t.pending, b)
		}
	}
	return updates
}

// Remainder returns the text received after the last terminator. It is never
// parsed as a sample.
func (t *Tokenizer) Remainder() string {
	return string(bytes.TrimSpace(t.pending))
}

// Reset drops any buffered partial segment.
func (t *Tokenizer) Reset() {
	t.pending = t.pending[:0]
}

func (t *Tokenizer) emit(updates []Update, term Terminator) []Update {
	text := string(bytes.TrimRight(t.pending, " \t"))
	t.pending = t.pending[:0]
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return updates
	}
	return append(updates, Update{Text: text, Terminator: term})
}

// UpdateReader lazily pulls updates out of a reader.
type UpdateReader struct {
	r         io.Reader
	tokenizer *Tokenizer
	queue     []Update
	buf       []byte
	err       error
}

func NewUpdateReader(r io.Reader) *UpdateReader {
	return &UpdateReader{
		r:         r,
		tokenizer: NewTokenizer(),
		buf:       make([]byte, readChunkSize),
	}
}

// Next returns the next complete update. It returns io.EOF once the
// underlying reader is drained; any unterminated tail is left in Remainder.
func (u *UpdateReader) Next() (Update, error) {
	for len(u.queue) == 0 {
		if u.err != nil {
			return Update{}, u.err
		}
		n, err := u.r.Read(u.buf)
		if n > 0 {
			u.queue = append(u.queue, u.tokenizer.Feed(u.buf[:n])...)
		}
		if err != nil {
			u.err = err
			if !errors.Is(err, io.EOF) && len(u.queue) == 0 {
				return Update{}, err
			}
		}
	}
	next := u.queue[0]
	u.queue = u.queue[1:]
	return next, nil
}

func (u *UpdateReader) Remainder() string {
	return u.tokenizer.Remainder()
}
