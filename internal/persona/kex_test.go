package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/keystore/internal/kerr"
	"github.com/quantarax/keystore/internal/keyprovider"
)

func newECPersona(t *testing.T) *Persona {
	t.Helper()
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
	if err := os.Mkdir(filepath.Join(base, hex), 0700); err != nil {
		t.Fatal(err)
	}
	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	p.Type = TypeEC
	p.Key = &KeyBox{Hex: hex, PubPEM: pub, Kind: keyprovider.KindEC}
	return p
}

func newRSAPersona(t *testing.T) *Persona {
	t.Helper()
	provider := keyprovider.NewOpenSSLLikeProvider(1024, "P256")
	pub, _, err := provider.GenerateRSA(nil)
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}
	_, hex, err := provider.NormalizeAndHashPEM(keyprovider.SHA256, pub)
	if err != nil {
		t.Fatalf("NormalizeAndHashPEM: %v", err)
	}

	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, hex), 0700); err != nil {
		t.Fatal(err)
	}
	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	p.Type = TypeRSA
	p.Key = &KeyBox{Hex: hex, PubPEM: pub, Kind: keyprovider.KindRSA}

	// Small bit length keeps safe-prime search fast in tests; production
	// callers use NewDHParams's larger default.
	params, dhPEM, err := provider.GenerateDHParams(256)
	if err != nil {
		t.Fatalf("GenerateDHParams: %v", err)
	}
	if err := p.writeDHParamsFile(dhPEM); err != nil {
		t.Fatal(err)
	}
	p.DHParams = &DHParamsBox{Params: params, PEM: dhPEM}
	return p
}

func TestGenerateKexKey_EC(t *testing.T) {
	p := newECPersona(t)

	box, err := p.GenerateKexKey("")
	if err != nil {
		t.Fatalf("GenerateKexKey: %v", err)
	}
	if !box.HasPublic() || !box.HasPrivate() {
		t.Fatal("expected both halves present")
	}

	entries, err := os.ReadDir(p.kexDir(box.Hex))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["dh.pub.pem"] || !names["dh.priv.pem"] {
		t.Fatalf("expected dh.pub.pem and dh.priv.pem, got %v", names)
	}
	if len(names) != 2 {
		t.Fatalf("expected exactly 2 files, got %v", names)
	}
}

func TestGenerateKexKey_RSA_RequiresDHParams(t *testing.T) {
	provider := keyprovider.NewOpenSSLLikeProvider(1024, "P256")
	pub, _, err := provider.GenerateRSA(nil)
	if err != nil {
		t.Fatalf("GenerateRSA: %v", err)
	}
	_, hex, err := provider.NormalizeAndHashPEM(keyprovider.SHA256, pub)
	if err != nil {
		t.Fatal(err)
	}
	base := t.TempDir()
	os.Mkdir(filepath.Join(base, hex), 0700)
	p := NewInMemory(base, hex, "", provider, keyprovider.SHA256)
	p.Type = TypeRSA

	if _, err := p.GenerateKexKey(""); kerr.Of(err) != kerr.PreconditionFailed {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
}

func TestGenerateKexKey_RSA(t *testing.T) {
	p := newRSAPersona(t)

	box, err := p.GenerateKexKey("")
	if err != nil {
		t.Fatalf("GenerateKexKey: %v", err)
	}
	if box.Kind != keyprovider.KindDH {
		t.Fatalf("expected KindDH, got %v", box.Kind)
	}
}

func TestGenerateKexKey_RegistersUnderHex(t *testing.T) {
	p := newECPersona(t)
	b1, err := p.GenerateKexKey("")
	if err != nil {
		t.Fatal(err)
	}

	// EC kex keys are fresh on every call, so a second call cannot hit
	// the same hex; this checks that the generated key is stored in the
	// kex map under its own hex, which is what that shortcut looks up.
	if existing, ok := p.Kex[b1.Hex]; !ok || existing != b1 {
		t.Fatal("expected generated key registered under its hex")
	}
}

func TestAddKexPubkey_EC_Idempotent(t *testing.T) {
	dest := newECPersona(t)
	provider := newTestProvider()
	peerPub, _, err := provider.GenerateEC()
	if err != nil {
		t.Fatal(err)
	}

	b1, err := dest.AddKexPubkey(peerPub)
	if err != nil {
		t.Fatalf("AddKexPubkey: %v", err)
	}
	b2, err := dest.AddKexPubkey(peerPub)
	if err != nil {
		t.Fatalf("AddKexPubkey (second): %v", err)
	}
	if b1 != b2 {
		t.Fatal("expected identical KeyBox on re-import")
	}

	entries, err := os.ReadDir(dest.kexDir(b1.Hex))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "dh.pub.pem" {
		t.Fatalf("expected only dh.pub.pem, got %v", entries)
	}
}

func TestAddKexPubkey_DH(t *testing.T) {
	dest := newRSAPersona(t)
	peerPub, _, _, err := dest.provider.GenerateDHKeypair(dest.DHParams.Params)
	if err != nil {
		t.Fatalf("GenerateDHKeypair: %v", err)
	}

	box, err := dest.AddKexPubkey(peerPub)
	if err != nil {
		t.Fatalf("AddKexPubkey(DH): %v", err)
	}
	if box.Kind != keyprovider.KindDH {
		t.Fatalf("expected KindDH, got %v", box.Kind)
	}

	box2, err := dest.AddKexPubkey(peerPub)
	if err != nil {
		t.Fatalf("AddKexPubkey(DH) second: %v", err)
	}
	if box != box2 {
		t.Fatal("expected identical KeyBox on re-import")
	}
}

func TestDeleteKexPrivate_Shreds(t *testing.T) {
	p := newECPersona(t)
	box, err := p.GenerateKexKey("")
	if err != nil {
		t.Fatal(err)
	}
	p.MarkUsed(box.Hex, true)

	if err := p.DeleteKexPrivate(box.Hex); err != nil {
		t.Fatalf("DeleteKexPrivate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(p.kexDir(box.Hex), "dh.priv.pem")); !os.IsNotExist(err) {
		t.Fatal("expected dh.priv.pem removed")
	}
	if _, err := os.Stat(filepath.Join(p.kexDir(box.Hex), "used")); !os.IsNotExist(err) {
		t.Fatal("expected used marker removed")
	}
	if p.Kex[box.Hex].HasPrivate() {
		t.Fatal("expected in-memory private half cleared")
	}
	if !p.Kex[box.Hex].HasPublic() {
		t.Fatal("expected public half retained")
	}
}

func TestDeleteKexPrivate_Sentinel_NoOp(t *testing.T) {
	p := newECPersona(t)
	if err := p.DeleteKexPrivate(keyprovider.ECKexID); err != nil {
		t.Fatalf("expected sentinel no-op, got %v", err)
	}
}

func TestDeleteKex_Sentinel_NoOp(t *testing.T) {
	p := newECPersona(t)
	if err := p.DeleteKex(keyprovider.RSAKexID); err != nil {
		t.Fatalf("expected sentinel no-op, got %v", err)
	}
}

func TestMarkUsed_SentinelIgnored(t *testing.T) {
	p := newECPersona(t)
	p.MarkUsed(keyprovider.ECKexID, true) // must not panic or create anything
}

func TestFindKex_ECFallback(t *testing.T) {
	p := newECPersona(t)
	box, err := p.FindKex(keyprovider.ECKexID)
	if err != nil {
		t.Fatalf("FindKex(ec_kex_id): %v", err)
	}
	if box != p.Key {
		t.Fatal("expected long-term key as EC fallback")
	}
}

func TestFindKex_RSANoFallback(t *testing.T) {
	p := newRSAPersona(t)
	if _, err := p.FindKex(keyprovider.ECKexID); kerr.Of(err) != kerr.NotFound {
		t.Fatalf("expected NotFound on RSA persona, got %v", err)
	}
}

func TestLinkSource(t *testing.T) {
	p := newECPersona(t)
	src := p.Hex
	if err := p.LinkSource(src); err != nil {
		t.Fatalf("LinkSource: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(p.dir(), "srclink"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != src+"\n" {
		t.Fatalf("unexpected srclink contents: %q", data)
	}
}
