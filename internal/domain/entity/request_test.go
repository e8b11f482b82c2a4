package entity

import "testing"

func TestLengthClassRange(t *testing.T) {
	cases := []struct {
		length   LengthClass
		min, max int
	}{
		{LengthShort, 3, 5},
		{LengthMedium, 8, 12},
		{LengthLong, 15, 20},
		{LengthClass("bogus"), 3, 5},
	}
	for _, c := range cases {
		r := c.length.Range()
		if r.Min != c.min || r.Max != c.max {
			t.Errorf("Range(%q) = {%d,%d}, want {%d,%d}", c.length, r.Min, r.Max, c.min, c.max)
		}
	}
}

func TestGenerationRequestNormalize(t *testing.T) {
	req := GenerationRequest{
		Genre:  "  科幻  ",
		Style:  "热血\n",
		Plot:   " 少年得到神秘装置 ",
		Length: LengthClass("epic"),
	}
	req.Normalize()

	if req.Genre != "科幻" || req.Style != "热血" || req.Plot != "少年得到神秘装置" {
		t.Errorf("fields not trimmed: %+v", req)
	}
	if req.Length != LengthShort {
		t.Errorf("invalid length should fall back to short, got %q", req.Length)
	}
}

func TestChapterSetContentCountsRunes(t *testing.T) {
	var ch Chapter
	ch.SetContent("第一章正文abc")
	if ch.WordCount != 8 {
		t.Errorf("WordCount = %d, want 8", ch.WordCount)
	}
}
