package generation

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTailRunes(t *testing.T) {
	s := strings.Repeat("前", 10) + strings.Repeat("尾", 5)

	got := tailRunes(s, 5)
	if got != strings.Repeat("尾", 5) {
		t.Errorf("tailRunes = %q", got)
	}
	if tailRunes(s, 100) != s {
		t.Error("shorter input should be returned unchanged")
	}
	if tailRunes(s, 0) != "" {
		t.Error("zero budget should return empty")
	}
	if !utf8.ValidString(tailRunes("一二三四五", 3)) {
		t.Error("tail must not split multibyte runes")
	}
}

func TestHeadRunes(t *testing.T) {
	s := "一二三四五"

	if got := headRunes(s, 3); got != "一二三" {
		t.Errorf("headRunes = %q", got)
	}
	if headRunes(s, 10) != s {
		t.Error("shorter input should be returned unchanged")
	}
	if headRunes(s, 0) != "" {
		t.Error("zero budget should return empty")
	}
}
