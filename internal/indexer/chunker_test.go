package indexer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/hondana/internal/contenthash"
)

// novelText builds deterministic prose of roughly n characters with sentences and paragraphs.
func novelText(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "The lighthouse keeper counted %d ships before the storm arrived. ", i)
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	return b.String()[:n]
}

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(60, 0.2)
	text := "One sentence here. Another one follows. A third closes the paragraph.\n\nNew paragraph starts. It ends."
	segs := c.Chunk(text)
	if len(segs) < 2 {
		t.Fatalf("expected at least 2 segments, got %d", len(segs))
	}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d Index=%d", i, s.Index)
		}
		if n := utf8.RuneCountInString(s.Text); n > 60 {
			t.Errorf("segment %d has %d chars, budget 60", i, n)
		}
		if text[s.Start:s.End] != s.Text {
			t.Errorf("segment %d offsets do not match text", i)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(segs[0].Text), ".") {
		t.Errorf("first segment should end at a sentence, got %q", segs[0].Text)
	}
	if text[segs[1].Start-1] != ' ' {
		t.Errorf("second segment should start at a word, got %q", segs[1].Text)
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(100, 0.1)
	if segs := c.Chunk("   \n\t  "); segs != nil {
		t.Errorf("blank text should return nil, got %v", segs)
	}
	if segs := c.Chunk(""); segs != nil {
		t.Errorf("empty text should return nil, got %v", segs)
	}
}

func TestChunker_ShortTextSingleSegment(t *testing.T) {
	segs := NewChunker(2000, 0.1).Chunk("A short chapter.")
	if len(segs) != 1 || segs[0].Text != "A short chapter." || segs[0].Start != 0 {
		t.Errorf("got %+v", segs)
	}
}

func TestChunker_Deterministic(t *testing.T) {
	text := novelText(9000)
	c := NewChunker(1000, 0.15)
	a, b := c.Chunk(text), c.Chunk(text)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("re-chunking identical text should give identical segments")
	}
	for i := range a {
		if contenthash.Of(a[i].Text) != contenthash.Of(b[i].Text) {
			t.Errorf("segment %d hash differs", i)
		}
	}
}

func TestChunker_CoverageAndOverlap(t *testing.T) {
	text := novelText(12000)
	c := NewChunker(2000, 0.1)
	segs := c.Chunk(text)
	if len(segs) < 6 {
		t.Fatalf("expected at least 6 segments for 12000 chars, got %d", len(segs))
	}
	if segs[0].Start != 0 {
		t.Errorf("first segment should start at 0, got %d", segs[0].Start)
	}
	if last := segs[len(segs)-1]; last.End != len(text) {
		t.Errorf("last segment should end at %d, got %d", len(text), last.End)
	}
	for i := 1; i < len(segs); i++ {
		prev, cur := segs[i-1], segs[i]
		if cur.Start <= prev.Start {
			t.Errorf("start offsets not strictly increasing at %d: %d then %d", i, prev.Start, cur.Start)
		}
		if cur.Start > prev.End {
			t.Errorf("gap between segment %d and %d: %d > %d", i-1, i, cur.Start, prev.End)
		}
		if prev.End-cur.Start > c.OverlapChars() {
			t.Errorf("overlap %d exceeds budget %d", prev.End-cur.Start, c.OverlapChars())
		}
	}
	for i, s := range segs {
		if n := utf8.RuneCountInString(s.Text); n > 2000 {
			t.Errorf("segment %d exceeds budget: %d", i, n)
		}
	}
}

func TestChunker_PrefersSentenceBoundaries(t *testing.T) {
	text := novelText(5000)
	segs := NewChunker(500, 0.1).Chunk(text)
	for i, s := range segs[:len(segs)-1] {
		trimmed := strings.TrimRight(s.Text, " \n")
		if !strings.HasSuffix(trimmed, ".") {
			t.Errorf("segment %d should end at a sentence: ...%q", i, trimmed[len(trimmed)-20:])
		}
	}
}

func TestChunker_HardCutsOversizeSentence(t *testing.T) {
	text := strings.Repeat("x", 250)
	segs := NewChunker(100, 0.1).Chunk(text)
	if len(segs) < 3 {
		t.Fatalf("expected hard cuts, got %d segments", len(segs))
	}
	for i, s := range segs {
		if len(s.Text) > 100 {
			t.Errorf("segment %d has %d chars", i, len(s.Text))
		}
	}
	if segs[len(segs)-1].End != len(text) {
		t.Error("hard-cut segments should still cover the text")
	}
}

func TestChunker_MultiByte(t *testing.T) {
	text := strings.Repeat("吾輩は猫である。名前はまだ無い。", 40)
	segs := NewChunker(50, 0.1).Chunk(text)
	for i, s := range segs {
		if n := utf8.RuneCountInString(s.Text); n > 50 {
			t.Errorf("segment %d has %d runes", i, n)
		}
		if !utf8.ValidString(s.Text) {
			t.Errorf("segment %d is not valid UTF-8", i)
		}
		if text[s.Start:s.End] != s.Text {
			t.Errorf("segment %d byte offsets do not match", i)
		}
	}
}

func TestNewChunker_clampsOverlap(t *testing.T) {
	if c := NewChunker(100, 0.9); c.OverlapChars() != 50 {
		t.Errorf("overlap should clamp to half the budget, got %d", c.OverlapChars())
	}
	if c := NewChunker(0, -1); c.MaxChars() != 2000 || c.OverlapChars() != 0 {
		t.Errorf("defaults: max=%d overlap=%d", c.MaxChars(), c.OverlapChars())
	}
}

func TestPreprocess(t *testing.T) {
	got := Preprocess("\ufeff  Line one\r\nLine two\r\n\r\nNext\x00 paragraph  ")
	want := "Line one\nLine two\n\nNext paragraph"
	if got != want {
		t.Errorf("Preprocess = %q, want %q", got, want)
	}
}
