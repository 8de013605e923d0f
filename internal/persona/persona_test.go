package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantarax/keystore/internal/keyprovider"
)

func newTestProvider() *keyprovider.OpenSSLLikeProvider {
	return keyprovider.NewOpenSSLLikeProvider(0, "P256")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatalf("writeFile(%s): %v", name, err)
	}
}

func TestCheckType(t *testing.T) {
	provider := newTestProvider()
	pub, _, err := provider.GenerateEC()
	if err != nil {
		t.Fatalf("GenerateEC: %v", err)
	}
	_, hex, err := provider.NormalizeAndHashPEM(keyprovider.SHA256, pub)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM: %v", err)
	}

	base := t.TempDir()
	dir := filepath.Join(base, hex)
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "ec.pub.pem", pub)

	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	if err := p.CheckType(); err != nil {
		t.Fatalf("CheckType: %v", err)
	}
	if p.Type != TypeEC {
		t.Fatalf("expected TypeEC, got %v", p.Type)
	}
}

func TestCheckType_NotFound(t *testing.T) {
	provider := newTestProvider()
	base := t.TempDir()
	hex := "aa" + strings.Repeat("0", 62)
	if err := os.Mkdir(filepath.Join(base, hex), 0700); err != nil {
		t.Fatal(err)
	}
	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	if err := p.CheckType(); err == nil {
		t.Fatal("expected error for persona with no keys")
	}
}

func TestLoad_ECPersonaWithNameAndKex(t *testing.T) {
	provider := newTestProvider()
	pub, priv, err := provider.GenerateEC()
	if err != nil {
		t.Fatalf("GenerateEC: %v", err)
	}
	_, hex, err := provider.NormalizeAndHashPEM(keyprovider.SHA256, pub)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM: %v", err)
	}

	base := t.TempDir()
	dir := filepath.Join(base, hex)
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "ec.pub.pem", pub)
	writeFile(t, dir, "ec.priv.pem", priv)
	writeFile(t, dir, "name", "alice\n")

	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	if err := p.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "alice" {
		t.Fatalf("expected name alice, got %q", p.Name)
	}
	if p.Type != TypeEC {
		t.Fatalf("expected TypeEC, got %v", p.Type)
	}
	if !p.Key.HasPublic() || !p.Key.HasPrivate() {
		t.Fatal("expected both halves of long-term key loaded")
	}
	if len(p.Kex) != 0 {
		t.Fatalf("expected no kex keys, got %d", len(p.Kex))
	}
}

func TestLoad_InvalidId(t *testing.T) {
	provider := newTestProvider()
	p := NewInMemory(t.TempDir(), "not-hex", "", provider, keyprovider.SHA256)
	if err := p.Load(""); err == nil {
		t.Fatal("expected error for invalid persona id")
	}
}

func TestLoad_RSAPersonaWithDHParams(t *testing.T) {
	provider := keyprovider.NewOpenSSLLikeProvider(1024, "P256")
	var markers []byte
	pub, priv, err := provider.GenerateRSA(func(b byte) { markers = append(markers, b) })
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}
	_, hex, err := provider.NormalizeAndHashPEM(keyprovider.SHA256, pub)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM: %v", err)
	}

	params, dhPEM, err := provider.GenerateDHParams(256)
	if err != nil {
		t.Fatalf("GenerateDHParams: %v", err)
	}
	_ = params

	base := t.TempDir()
	dir := filepath.Join(base, hex)
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "rsa.pub.pem", pub)
	writeFile(t, dir, "rsa.priv.pem", priv)
	writeFile(t, dir, "dhparams.pem", dhPEM)

	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	if err := p.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Type != TypeRSA {
		t.Fatalf("expected TypeRSA, got %v", p.Type)
	}
	if p.DHParams == nil {
		t.Fatal("expected DH params to be loaded")
	}
}
