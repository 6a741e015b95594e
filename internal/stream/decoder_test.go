package stream

import (
	"strings"
	"testing"
)

func TestDecoderSplitAtEveryBoundary(t *testing.T) {
	inputs := []string{
		"plain ascii",
		"café",
		"世界",
		"\U0001f389 done",
		"mixed: é 世界 \U0001f680\U0001f680 end",
	}
	for _, in := range inputs {
		raw := []byte(in)
		for cut := 0; cut <= len(raw); cut++ {
			var d Decoder
			got := d.Write(raw[:cut]) + d.Write(raw[cut:]) + d.Flush()
			if got != in {
				t.Errorf("split %q at byte %d: got %q, want %q", in, cut, got, in)
			}
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	in := "aé世\U0001f389z"
	var d Decoder
	var sb strings.Builder
	for _, b := range []byte(in) {
		sb.WriteString(d.Write([]byte{b}))
	}
	sb.WriteString(d.Flush())
	if got := sb.String(); got != in {
		t.Errorf("byte-at-a-time decode = %q, want %q", got, in)
	}
}

func TestDecoderThreeWaySplit(t *testing.T) {
	// 4-byte rune split across three chunks.
	raw := []byte("\U0001f389")
	var d Decoder
	got := d.Write(raw[:1]) + d.Write(raw[1:3]) + d.Write(raw[3:]) + d.Flush()
	if got != "\U0001f389" {
		t.Errorf("three-way split = %q, want %q", got, "\U0001f389")
	}
}

func TestDecoderHoldsBackPartialRune(t *testing.T) {
	raw := []byte("世")
	var d Decoder
	if got := d.Write(raw[:2]); got != "" {
		t.Errorf("partial rune decoded early: %q", got)
	}
	if !d.Pending() {
		t.Error("Pending() = false with carried bytes")
	}
	if got := d.Write(raw[2:]); got != "世" {
		t.Errorf("completion decode = %q, want %q", got, "世")
	}
	if d.Pending() {
		t.Error("Pending() = true after completion")
	}
}

func TestDecoderInvalidBytes(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"lone continuation byte", []byte{0x80}, "�"},
		{"impossible byte", []byte{0xff, 'a'}, "�a"},
		{"start byte then ascii", []byte{0xc3, 'a'}, "�a"},
		{"truncated then valid", []byte{0xe4, 0xb8, 'x'}, "��x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			got := d.Write(tt.input) + d.Flush()
			if got != tt.want {
				t.Errorf("decode %v = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecoderFlushIncompleteTail(t *testing.T) {
	var d Decoder
	if got := d.Write([]byte{0xe4, 0xb8}); got != "" {
		t.Fatalf("incomplete tail decoded early: %q", got)
	}
	if got := d.Flush(); got != "�" {
		t.Errorf("Flush() = %q, want %q", got, "�")
	}
	if got := d.Flush(); got != "" {
		t.Errorf("second Flush() = %q, want empty", got)
	}
}
