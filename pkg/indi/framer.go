package indi

import (
	"fmt"

	"astrobridge/pkg/device"
)

// maxMessageSize bounds a single buffered message, BLOBs included.
const maxMessageSize = 512 << 20

// framer splits the inbound byte stream into complete top level elements.
// It tracks element depth, quoted attribute values and declarations, so it
// can be fed arbitrary chunks.
//
// framer is not goroutine-safe; the connection reader owns it.
type framer struct {
	buf   []byte
	pos   int
	start int // offset of the pending message, -1 when between messages
	depth int

	inTag    bool
	afterLT  bool
	closing  bool
	decl     bool
	quote    byte
	prev     byte
	naming   bool
	root     []byte
	rootName string
}

func newFramer() *framer {
	return &framer{start: -1}
}

// Pending reports whether a message has started but is not complete.
func (f *framer) Pending() bool {
	return f.start >= 0
}

// Root returns the element name of the pending message.
func (f *framer) Root() string {
	if !f.Pending() {
		return ""
	}
	if f.rootName == "" {
		return string(f.root)
	}
	return f.rootName
}

// Reset discards any buffered partial message.
func (f *framer) Reset() {
	*f = framer{buf: f.buf[:0], start: -1}
}

// Feed appends p and returns the messages it completed.
func (f *framer) Feed(p []byte) ([][]byte, error) {
	f.buf = append(f.buf, p...)

	var out [][]byte
	for ; f.pos < len(f.buf); f.pos++ {
		c := f.buf[f.pos]

		if f.quote != 0 {
			if c == f.quote {
				f.quote = 0
			}
			f.prev = c
			continue
		}

		if !f.inTag {
			if c == '<' {
				f.inTag, f.afterLT = true, true
				f.closing, f.decl = false, false
				if f.depth == 0 {
					f.start = f.pos
					f.root, f.rootName = f.root[:0], ""
					f.naming = true
				}
			}
			f.prev = c
			continue
		}

		if f.afterLT {
			f.afterLT = false
			switch c {
			case '/':
				f.closing = true
				f.naming = false
			case '?', '!':
				f.decl = true
				f.naming = false
			}
		}

		if f.naming {
			if isNameByte(c) {
				f.root = append(f.root, c)
			} else {
				f.naming = false
				f.rootName = string(f.root)
			}
		}

		switch c {
		case '"', '\'':
			if !f.decl {
				f.quote = c
			}
		case '>':
			f.inTag = false
			switch {
			case f.decl:
			case f.closing:
				f.depth--
			case f.prev == '/':
			default:
				f.depth++
			}

			if f.depth < 0 {
				f.Reset()
				return out, fmt.Errorf("%w: unbalanced closing tag", device.ErrProtocol)
			}
			if f.depth == 0 {
				if !f.decl {
					msg := make([]byte, f.pos+1-f.start)
					copy(msg, f.buf[f.start:f.pos+1])
					out = append(out, msg)
				}
				f.start = -1
			}
		}
		f.prev = c
	}

	f.compact()

	if len(f.buf) > maxMessageSize {
		root := f.Root()
		f.Reset()
		return out, fmt.Errorf("%w: %s message exceeds %d bytes", device.ErrProtocol, root, maxMessageSize)
	}
	return out, nil
}

func (f *framer) compact() {
	switch {
	case f.start < 0:
		f.buf = f.buf[:0]
		f.pos = 0
	case f.start > 0:
		n := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:n]
		f.pos -= f.start
		f.start = 0
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
