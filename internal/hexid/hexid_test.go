package hexid

import "testing"

func TestIsHexHash(t *testing.T) {
	cases := []struct {
		s    string
		size int
		want bool
	}{
		{"a1b2c3", 6, true},
		{"A1B2C3", 6, false}, // uppercase rejected
		{"a1b2c3", 7, false}, // wrong length
		{"", 6, false},
		{"zzzzzz", 6, false},
		{"deadbeefdeadbeef", ShortLen, true},
	}
	for _, c := range cases {
		if got := IsHexHash(c.s, c.size); got != c.want {
			t.Errorf("IsHexHash(%q, %d) = %v, want %v", c.s, c.size, got, c.want)
		}
	}
}

func TestIsHexHashAnyLen(t *testing.T) {
	if !IsHexHashAnyLen("deadbeef") {
		t.Error("expected deadbeef to be valid hex")
	}
	if IsHexHashAnyLen("") {
		t.Error("empty string must not be valid hex")
	}
	if IsHexHashAnyLen("deadbeeG") {
		t.Error("non-hex character must be rejected")
	}
}

func TestBlobHexRoundTrip(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	h := BlobToHex(raw)
	if h != "deadbeef" {
		t.Fatalf("BlobToHex = %q, want deadbeef", h)
	}
	back, err := HexToBlob(h)
	if err != nil {
		t.Fatalf("HexToBlob: %v", err)
	}
	if string(back) != string(raw) {
		t.Fatalf("round trip mismatch: %x vs %x", back, raw)
	}
}
