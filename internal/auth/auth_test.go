package auth

import "testing"

func TestStaticGate_CaseInsensitive(t *testing.T) {
	g := NewStaticGate([]string{"0xAbCd", " 0xeF01 "})

	if !g.IsAdmin("0xabcd") {
		t.Error("expected lowercased admin to pass")
	}
	if !g.IsAdmin("0xEF01") {
		t.Error("expected trimmed admin to pass")
	}
	if g.IsAdmin("0xdead") {
		t.Error("unexpected admin")
	}
}

func TestStaticGate_Empty(t *testing.T) {
	g := NewStaticGate(nil)
	if g.IsAdmin("") || g.IsAdmin("0xabc") {
		t.Error("empty gate should authorize nobody")
	}
}
