package keyprovider

import (
	"strings"
	"testing"

	"github.com/quantarax/keystore/internal/kerr"
)

func TestNormalizeAndHash_StableAcrossGarbage(t *testing.T) {
	provider := NewOpenSSLLikeProvider(0, "P256")
	pub, _, err := provider.GenerateEC()
	if err != nil {
		t.Fatalf("GenerateEC: %v", err)
	}

	_, h1, err := provider.NormalizeAndHashPEM(SHA256, pub)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM(clean): %v", err)
	}

	dirty := "garbage\n" + pub + "\ntrailing"
	norm2, h2, err := provider.NormalizeAndHashPEM(SHA256, dirty)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM(dirty): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed under prefix/suffix garbage: %s vs %s", h1, h2)
	}

	// normalize(normalize(x)) == normalize(x)
	norm3, h3, err := provider.NormalizeAndHashPEM(SHA256, norm2)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM(normalized): %v", err)
	}
	if norm3 != norm2 || h3 != h2 {
		t.Fatalf("normalization is not idempotent")
	}
}

func TestNormalizeAndHash_RejectsDuplicateBegin(t *testing.T) {
	provider := NewOpenSSLLikeProvider(0, "P256")
	pub, _, err := provider.GenerateEC()
	if err != nil {
		t.Fatalf("GenerateEC: %v", err)
	}
	doubled := pub + pub
	_, _, err = provider.NormalizeAndHashPEM(SHA256, doubled)
	if err == nil {
		t.Fatal("expected error for doubled BEGIN marker")
	}
	if kerr.Of(err) != kerr.Malformed {
		t.Fatalf("expected Malformed, got %v", kerr.Of(err))
	}
}

func TestNormalizeAndHash_MissingMarkers(t *testing.T) {
	provider := NewOpenSSLLikeProvider(0, "P256")
	if _, _, err := provider.NormalizeAndHashPEM(SHA256, "not a pem at all"); err == nil {
		t.Fatal("expected Malformed for missing BEGIN marker")
	}
	if _, _, err := provider.NormalizeAndHashPEM(SHA256, "-----BEGIN PUBLIC KEY-----\nMISSING_END"); err == nil {
		t.Fatal("expected Malformed for missing END marker")
	}
}

func TestDHParamsAndKeypair(t *testing.T) {
	provider := NewOpenSSLLikeProvider(0, "P256")
	params, pem, err := provider.GenerateDHParams(512)
	if err != nil {
		t.Fatalf("GenerateDHParams: %v", err)
	}
	if !strings.Contains(pem, "BEGIN DH PARAMETERS") {
		t.Fatalf("unexpected DH params PEM: %s", pem)
	}

	reparsed, err := provider.ParseDHParamsPEM(pem)
	if err != nil {
		t.Fatalf("ParseDHParamsPEM: %v", err)
	}
	if reparsed.P.Cmp(params.P) != 0 || reparsed.G.Cmp(params.G) != 0 {
		t.Fatal("DH params did not round-trip through PEM")
	}

	pubPEM, privPEM, pubBytes, err := provider.GenerateDHKeypair(params)
	if err != nil {
		t.Fatalf("GenerateDHKeypair: %v", err)
	}
	if len(pubBytes) == 0 {
		t.Fatal("expected non-empty public bignum bytes")
	}

	kind, _, err := provider.ParsePublicPEM(pubPEM)
	if err != nil {
		t.Fatalf("ParsePublicPEM(dh pub): %v", err)
	}
	if kind != KindDH {
		t.Fatalf("expected KindDH, got %v", kind)
	}

	kind, _, err = provider.ParsePrivatePEM(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivatePEM(dh priv): %v", err)
	}
	if kind != KindDH {
		t.Fatalf("expected KindDH, got %v", kind)
	}
}

func TestGenerateRSA_EmitsProgressMarkers(t *testing.T) {
	provider := NewOpenSSLLikeProvider(1024, "P256") // small modulus, test only
	var markers []byte
	pub, priv, err := provider.GenerateRSA(func(b byte) { markers = append(markers, b) })
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}
	if !strings.Contains(pub, "BEGIN PUBLIC KEY") || !strings.Contains(priv, "BEGIN PRIVATE KEY") {
		t.Fatal("unexpected PEM output")
	}
	if len(markers) != 4 {
		t.Fatalf("expected 4 progress markers, got %d: %q", len(markers), markers)
	}
}

func TestHashBignum(t *testing.T) {
	provider := NewOpenSSLLikeProvider(0, "P256")
	h1, err := provider.HashBignum(SHA256, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("HashBignum: %v", err)
	}
	h2, _ := provider.HashBignum(SHA256, []byte{1, 2, 3})
	if h1 != h2 {
		t.Fatal("HashBignum not deterministic")
	}
	h3, _ := provider.HashBignum(SHA256, []byte{1, 2, 4})
	if h1 == h3 {
		t.Fatal("HashBignum collided on different input")
	}
}
