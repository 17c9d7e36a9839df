package objhash

import "testing"

func TestAlgo_StringParseSizeRoundTrip(t *testing.T) {
	for _, algo := range []Algo{SHA1, BLAKE3} {
		parsed, err := ParseAlgo(algo.String())
		if err != nil {
			t.Fatalf("ParseAlgo(%s): %v", algo, err)
		}
		if parsed != algo {
			t.Errorf("ParseAlgo(%s) = %v, want %v", algo, parsed, algo)
		}
	}
	if SHA1.Size() != 20 {
		t.Errorf("SHA1.Size() = %d, want 20", SHA1.Size())
	}
	if BLAKE3.Size() != 32 {
		t.Errorf("BLAKE3.Size() = %d, want 32", BLAKE3.Size())
	}
}

func TestParseAlgo_RejectsUnknown(t *testing.T) {
	if _, err := ParseAlgo("sha256"); err == nil {
		t.Fatal("expected an error for an unrecognized algorithm name")
	}
}

func TestSum_IsDeterministicAndWidthCorrect(t *testing.T) {
	h1 := Sum(SHA1, []byte("hello"))
	h2 := Sum(SHA1, []byte("hello"))
	if !h1.Equal(h2) {
		t.Error("Sum of the same content under the same algo should be equal")
	}
	if len(h1.Bytes()) != SHA1.Size() {
		t.Errorf("digest length = %d, want %d", len(h1.Bytes()), SHA1.Size())
	}

	h3 := Sum(SHA1, []byte("world"))
	if h1.Equal(h3) {
		t.Error("Sum of different content should not be equal")
	}
}

func TestFromBytes_RejectsWrongWidth(t *testing.T) {
	if _, err := FromBytes(SHA1, make([]byte, 10)); err == nil {
		t.Fatal("expected an error constructing a SHA1 hash from the wrong number of bytes")
	}
}

func TestFromHex_RoundTripsWithString(t *testing.T) {
	h := Sum(SHA1, []byte("content"))
	parsed, err := FromHex(SHA1, h.String())
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if !parsed.Equal(h) {
		t.Errorf("FromHex round trip mismatch: %v != %v", parsed, h)
	}
}

func TestHash_IsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero-value Hash should report IsZero")
	}
	if zero.String() != "" {
		t.Errorf("zero Hash.String() = %q, want empty", zero.String())
	}
	h := Sum(SHA1, []byte("x"))
	if h.IsZero() {
		t.Error("a summed Hash should not report IsZero")
	}
}

func TestHash_Short(t *testing.T) {
	h := Sum(SHA1, []byte("x"))
	full := h.String()
	if got := h.Short(8); got != full[:8] {
		t.Errorf("Short(8) = %q, want %q", got, full[:8])
	}
	if got := h.Short(1000); got != full {
		t.Errorf("Short(1000) = %q, want the full string %q", got, full)
	}
}

func TestHash_SplitPath(t *testing.T) {
	h := Sum(SHA1, []byte("x"))
	s := h.String()
	dir, rest := h.SplitPath()
	if dir != s[:2] || rest != s[2:] {
		t.Errorf("SplitPath() = (%q, %q), want (%q, %q)", dir, rest, s[:2], s[2:])
	}
}

func TestHash_EqualAcrossAlgos(t *testing.T) {
	sha := Sum(SHA1, []byte("x"))
	blake := Sum(BLAKE3, []byte("x"))
	if sha.Equal(blake) {
		t.Error("hashes from different algorithms must never compare equal")
	}
}
