package chunker

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"finrag/internal/domain"
)

func TestSplit_ThreeChunkBoundaries(t *testing.T) {
	text := strings.Repeat("abcdefghij", 120) // 1200 chars
	chunks, err := Collect("doc", text, Options{ChunkSize: 500, Overlap: 50})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := [][2]int{{0, 500}, {450, 950}, {900, 1200}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].OffsetStart != w[0] || chunks[i].OffsetEnd != w[1] {
			t.Fatalf("chunk %d: expected [%d,%d), got [%d,%d)", i, w[0], w[1], chunks[i].OffsetStart, chunks[i].OffsetEnd)
		}
		if chunks[i].Text != text[w[0]:w[1]] {
			t.Fatalf("chunk %d text does not match its offsets", i)
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "Revenue grew 12% year over year."
	chunks, err := Collect("doc", text, DefaultOptions())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text || chunks[0].OffsetStart != 0 || chunks[0].OffsetEnd != len(text) {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

func TestSplit_ExactlyChunkSize(t *testing.T) {
	chunks, err := Collect("doc", strings.Repeat("x", 500), DefaultOptions())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for text of chunk size, got %d", len(chunks))
	}
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Collect("doc", "", DefaultOptions())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplit_InvalidParameters(t *testing.T) {
	cases := []Options{
		{ChunkSize: 100, Overlap: 100},
		{ChunkSize: 100, Overlap: 150},
		{ChunkSize: 0, Overlap: 0},
		{ChunkSize: 100, Overlap: -1},
	}
	for _, opts := range cases {
		if _, err := Split("doc", "text", opts); !errors.Is(err, domain.ErrInvalidParameters) {
			t.Fatalf("opts %+v: expected ErrInvalidParameters, got %v", opts, err)
		}
	}
}

func TestSplit_FixedLengthAndExactOverlap(t *testing.T) {
	text := strings.Repeat("The quarterly filing reports net income. ", 97)
	for _, opts := range []Options{{10, 0}, {10, 9}, {64, 7}, {500, 50}, {333, 100}} {
		chunks, err := Collect("doc", text, opts)
		if err != nil {
			t.Fatalf("opts %+v: %v", opts, err)
		}
		for i, c := range chunks {
			if i < len(chunks)-1 && c.Len() != opts.ChunkSize {
				t.Fatalf("opts %+v: chunk %d has length %d", opts, i, c.Len())
			}
			if i > 0 && chunks[i-1].OffsetEnd-c.OffsetStart != opts.Overlap {
				t.Fatalf("opts %+v: chunks %d/%d overlap by %d", opts, i-1, i, chunks[i-1].OffsetEnd-c.OffsetStart)
			}
		}
		if got := Reconstruct(chunks); got != text {
			t.Fatalf("opts %+v: reconstruction differs from original", opts)
		}
	}
}

func TestSplit_Restartable(t *testing.T) {
	seq, err := Split("doc", strings.Repeat("0123456789", 30), Options{ChunkSize: 40, Overlap: 5})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	var first, second []domain.Chunk
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	if len(first) != len(second) {
		t.Fatalf("second pass yielded %d chunks, first %d", len(second), len(first))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Fatalf("chunk %d differs between passes", i)
		}
	}
}

func TestSplit_EarlyBreak(t *testing.T) {
	seq, _ := Split("doc", strings.Repeat("a", 1000), Options{ChunkSize: 10, Overlap: 2})
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("expected to stop after 3 chunks, got %d", n)
	}
}

func TestSplit_MultibyteOffsetsAreCharacters(t *testing.T) {
	text := strings.Repeat("营收", 30) // 60 characters, 180 bytes
	chunks, err := Collect("doc", text, Options{ChunkSize: 25, Overlap: 5})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if chunks[0].Len() != 25 || len([]rune(chunks[0].Text)) != 25 {
		t.Fatalf("expected 25 characters in first chunk, got %d", len([]rune(chunks[0].Text)))
	}
	if Reconstruct(chunks) != text {
		t.Fatal("reconstruction differs for multibyte text")
	}
}

func TestChunkID_Stable(t *testing.T) {
	chunks, _ := Collect("abc123", strings.Repeat("z", 30), Options{ChunkSize: 10, Overlap: 0})
	for i, c := range chunks {
		if c.ID != ChunkID("abc123", i) || c.DocumentID != "abc123" {
			t.Fatalf("chunk %d has id %q", i, c.ID)
		}
	}
}

func TestSplit_RejectsInvalidUTF8(t *testing.T) {
	_, err := Collect("doc", "Revenue \xff\xfe grew 12%", Options{ChunkSize: 8, Overlap: 2})
	if !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
}
