package chunker

import (
	"strings"
	"testing"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := New(100, -1); err == nil {
		t.Fatalf("expected error for negative overlap")
	}
	if _, err := New(100, 100); err == nil {
		t.Fatalf("expected error for overlap >= chunk size")
	}
}

func TestSplitEmptyText(t *testing.T) {
	c, err := New(1000, 200)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.SplitAll(""); len(got) != 0 {
		t.Fatalf("empty text chunks: want=0 got=%d", len(got))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c, _ := New(1000, 200)
	got := c.SplitAll("short document")
	if len(got) != 1 {
		t.Fatalf("chunks: want=1 got=%d", len(got))
	}
	if got[0].Start != 0 || got[0].End != len("short document") || got[0].Index != 0 {
		t.Fatalf("chunk bounds: got=%+v", got[0])
	}
}

func TestSplitRawCutOffsets(t *testing.T) {
	// 2400 uniform characters, no natural boundaries: raw cuts at the
	// window edge, next window rewinds by the overlap.
	text := strings.Repeat("a", 2400)
	c, _ := New(1000, 200)
	got := c.SplitAll(text)
	if len(got) != 3 {
		t.Fatalf("chunks: want=3 got=%d", len(got))
	}
	if got[0].Start != 0 || got[0].End != 1000 {
		t.Fatalf("chunk 0 bounds: got=[%d,%d)", got[0].Start, got[0].End)
	}
	if got[1].Start != 800 || got[1].End != 1800 {
		t.Fatalf("chunk 1 bounds: got=[%d,%d)", got[1].Start, got[1].End)
	}
	if got[2].Start != 1600 || got[2].End != 2400 {
		t.Fatalf("chunk 2 bounds: got=[%d,%d)", got[2].Start, got[2].End)
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("b", 500) + "\n\n" + strings.Repeat("c", 900)
	c, _ := New(1000, 100)
	got := c.SplitAll(text)
	if len(got) < 2 {
		t.Fatalf("chunks: want>=2 got=%d", len(got))
	}
	if got[0].End != 502 {
		t.Fatalf("chunk 0 should end after the paragraph break: got end=%d", got[0].End)
	}
	if got[1].Start != 402 {
		t.Fatalf("chunk 1 start: want=%d got=%d", 402, got[1].Start)
	}
}

func TestSplitPrefersSentenceOverComma(t *testing.T) {
	text := "First sentence. Second clause, still going " + strings.Repeat("d", 1000)
	c, _ := New(40, 10)
	got := c.SplitAll(text)
	if got[0].Text != "First sentence." {
		t.Fatalf("chunk 0 text: got=%q", got[0].Text)
	}
}

func TestSplitCoverageAndOverlapInvariant(t *testing.T) {
	texts := []string{
		strings.Repeat("x", 3999),
		"Line one\nLine two\nLine three\n" + strings.Repeat("y", 2500),
		"Sentence one. Sentence two! Sentence three? " + strings.Repeat("word ", 600),
	}
	c, _ := New(500, 120)
	for _, text := range texts {
		got := c.SplitAll(text)
		if len(got) == 0 {
			t.Fatalf("no chunks produced")
		}
		runes := []rune(text)
		covered := make([]bool, len(runes))
		for i, ch := range got {
			if ch.Index != i {
				t.Fatalf("chunk index: want=%d got=%d", i, ch.Index)
			}
			if ch.End-ch.Start <= 0 {
				t.Fatalf("chunk %d empty: [%d,%d)", i, ch.Start, ch.End)
			}
			if ch.End-ch.Start > 500 {
				t.Fatalf("chunk %d too large: %d runes", i, ch.End-ch.Start)
			}
			if ch.Text != string(runes[ch.Start:ch.End]) {
				t.Fatalf("chunk %d text does not match offsets", i)
			}
			for p := ch.Start; p < ch.End; p++ {
				covered[p] = true
			}
			if i > 0 {
				prev := got[i-1]
				want := prev.End - 120
				if want <= prev.Start {
					want = prev.End
				}
				if ch.Start != want {
					t.Fatalf("chunk %d start: want=%d got=%d", i, want, ch.Start)
				}
			}
		}
		for p, ok := range covered {
			if !ok {
				t.Fatalf("rune %d not covered by any chunk", p)
			}
		}
		if last := got[len(got)-1]; last.End != len(runes) {
			t.Fatalf("last chunk end: want=%d got=%d", len(runes), last.End)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon, zeta.\n\n" + strings.Repeat("eta theta ", 300)
	c, _ := New(250, 50)
	first := c.SplitAll(text)
	second := c.SplitAll(text)
	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitSequenceRestartable(t *testing.T) {
	text := strings.Repeat("z", 1200)
	c, _ := New(500, 100)
	seq := c.Split(text)

	var firstPass, secondPass int
	for range seq {
		firstPass++
	}
	for range seq {
		secondPass++
	}
	if firstPass == 0 || firstPass != secondPass {
		t.Fatalf("sequence not restartable: first=%d second=%d", firstPass, secondPass)
	}
}
