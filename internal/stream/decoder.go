// Package stream turns the byte chunks of a streamed backend response
// into a monotonically growing transcript entry.
package stream

import (
	"strings"
	"unicode/utf8"
)

// Decoder is an incremental UTF-8 decoder. A multi-byte character split
// across Write calls is held back until its remaining bytes arrive, so
// chunk boundaries never corrupt output. Invalid bytes decode to U+FFFD.
// The zero value is ready to use.
type Decoder struct {
	carry []byte
}

// Write decodes p together with any carried bytes from the previous
// call and returns the decodable text. A trailing partial character is
// carried to the next call.
func (d *Decoder) Write(p []byte) string {
	buf := p
	if len(d.carry) > 0 {
		buf = append(d.carry, p...)
		d.carry = nil
	}

	var sb strings.Builder
	sb.Grow(len(buf))
	i := 0
	for i < len(buf) {
		if !utf8.FullRune(buf[i:]) {
			d.carry = append([]byte(nil), buf[i:]...)
			break
		}
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
			i++
			continue
		}
		sb.Write(buf[i : i+size])
		i += size
	}
	return sb.String()
}

// Flush drains the decoder at end-of-stream. Carried bytes that never
// completed a character come back as a single U+FFFD instead of being
// dropped.
func (d *Decoder) Flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	d.carry = nil
	return string(utf8.RuneError)
}

// Pending reports whether the decoder is holding a partial character.
func (d *Decoder) Pending() bool { return len(d.carry) > 0 }
