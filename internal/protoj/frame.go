// Package protoj implements the client side of the drouterd JSON control
// protocol: stream framing, message decoding, command encoding, and the
// connection session that ties them to the derived state store.
package protoj

import (
	"bytes"
	"fmt"
)

// FramingError reports an unmatched closing brace at the top level of the
// stream. The bytes accumulated up to and including the offending brace are
// discarded; the assembler stays usable for the bytes that follow.
type FramingError struct {
	Discarded []byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: unmatched '}' after %d bytes", len(e.Discarded))
}

// Assembler reassembles whole JSON documents from the brace-delimited byte
// stream. Documents carry no length prefix; boundaries are defined purely by
// balanced {} nesting outside of double-quoted strings.
//
// The quote flag toggles on every '"' byte. Backslash escapes inside string
// values are not recognized, so a quote escaped with \" desynchronizes
// framing. The peer never emits such strings and expects this exact behavior,
// so the limitation is kept.
type Assembler struct {
	buf    bytes.Buffer
	depth  int
	quoted bool
}

// Segment is one framing result in stream order: a complete document, or a
// framing error where recovery discarded input.
type Segment struct {
	Doc []byte
	Err *FramingError
}

// Step consumes one byte. When the byte completes a document, the document is
// returned and the internal buffer is reset. When the byte is an unmatched
// top-level '}', a FramingError is returned and the accumulated bytes are
// dropped.
func (a *Assembler) Step(b byte) ([]byte, *FramingError) {
	switch {
	case b == '"':
		a.quoted = !a.quoted
		a.buf.WriteByte(b)
	case b == '{' && !a.quoted:
		a.depth++
		a.buf.WriteByte(b)
	case b == '}' && !a.quoted:
		a.buf.WriteByte(b)
		a.depth--
		if a.depth == 0 {
			return a.take(), nil
		}
		if a.depth < 0 {
			err := &FramingError{Discarded: a.take()}
			a.depth = 0
			return nil, err
		}
	default:
		a.buf.WriteByte(b)
	}
	return nil, nil
}

// Feed scans a chunk of arbitrary size and returns the completed documents
// and framing errors it produced, in stream order. Chunk boundaries never
// affect the result.
func (a *Assembler) Feed(p []byte) []Segment {
	var segs []Segment
	for _, b := range p {
		doc, err := a.Step(b)
		switch {
		case err != nil:
			segs = append(segs, Segment{Err: err})
		case doc != nil:
			segs = append(segs, Segment{Doc: doc})
		}
	}
	return segs
}

// Pending returns the number of buffered bytes of an incomplete document.
func (a *Assembler) Pending() int {
	return a.buf.Len()
}

// Reset discards any partially accumulated document and framing state.
func (a *Assembler) Reset() {
	a.buf.Reset()
	a.depth = 0
	a.quoted = false
}

func (a *Assembler) take() []byte {
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	a.buf.Reset()
	return out
}
