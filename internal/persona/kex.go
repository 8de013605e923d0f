package persona

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/quantarax/keystore/internal/hexid"
	"github.com/quantarax/keystore/internal/kerr"
	"github.com/quantarax/keystore/internal/keyprovider"
	"github.com/quantarax/keystore/internal/stage"
)

func isSentinel(hex string) bool {
	return hex == keyprovider.RSAKexID || hex == keyprovider.ECKexID
}

func (p *Persona) kexDir(hex string) string {
	return filepath.Join(p.dir(), hex)
}

// LoadKex loads one ephemeral kex key directory, tolerant of missing
// halves. A present-but-malformed dh.priv.pem is fatal; a missing
// dh.pub.pem with a present dh.priv.pem is not (the public half may
// have been shredded by DeleteKexPublic without removing the box).
// A directory with neither half present is a deletion tombstone and is
// not inserted into the map.
func (p *Persona) LoadKex(hex string) error {
	if !hexid.IsHexHash(hex, 0) {
		return kerr.New(kerr.InvalidId, "LoadKex", errors.New("not a valid (ec)dh hex id"))
	}

	box := &KeyBox{Hex: hex}
	hasPub, hasPriv := false, false

	if data, err := os.ReadFile(filepath.Join(p.kexDir(hex), "dh.pub.pem")); err == nil {
		if kind, pub, err := p.provider.ParsePublicPEM(string(data)); err == nil {
			box.PubPEM = string(data)
			box.PubKey = pub
			box.Kind = kind
			hasPub = true
		}
	}

	if data, err := os.ReadFile(filepath.Join(p.kexDir(hex), "dh.priv.pem")); err == nil {
		_, priv, err := p.provider.ParsePrivatePEM(string(data))
		if err != nil {
			return kerr.New(kerr.Malformed, "LoadKex", err)
		}
		box.PrivPEM = string(data)
		box.PrivKey = priv
		hasPriv = true
	}

	if !hasPub && !hasPriv {
		delete(p.Kex, hex)
		return nil
	}

	if peer, err := readTrimmedLine(filepath.Join(p.kexDir(hex), "peer")); err == nil && hexid.IsHexHash(peer, 0) {
		box.PeerHex = peer
	}

	p.Kex[hex] = box
	return nil
}

// GenerateKexKey draws a fresh ephemeral keypair (EC for EC personas,
// finite-field DH for RSA personas, which must already have DH
// parameters) and stages it into the persona's directory.
func (p *Persona) GenerateKexKey(peer string) (*KeyBox, error) {
	var pubPEM, privPEM, hex string
	var kind keyprovider.KeyKind
	var pubBytes []byte

	if p.Type == TypeEC {
		var err error
		pubPEM, privPEM, err = p.provider.GenerateEC()
		if err != nil {
			return nil, err
		}
		_, hex, err = p.provider.NormalizeAndHashPEM(p.digest, pubPEM)
		if err != nil {
			return nil, kerr.New(kerr.CryptoError, "GenerateKexKey", err)
		}
		kind = keyprovider.KindEC
	} else {
		if p.DHParams == nil {
			return nil, kerr.New(kerr.PreconditionFailed, "GenerateKexKey", errors.New("no DH parameters for persona"))
		}
		var err error
		pubPEM, privPEM, pubBytes, err = p.provider.GenerateDHKeypair(p.DHParams.Params)
		if err != nil {
			return nil, err
		}
		hex, err = p.provider.HashBignum(p.digest, pubBytes)
		if err != nil {
			return nil, kerr.New(kerr.CryptoError, "GenerateKexKey", err)
		}
		kind = keyprovider.KindDH
	}

	if existing, ok := p.Kex[hex]; ok {
		return existing, nil
	}

	_, pubKey, err := p.provider.ParsePublicPEM(pubPEM)
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "GenerateKexKey", err)
	}
	_, privKey, err := p.provider.ParsePrivatePEM(privPEM)
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "GenerateKexKey", err)
	}

	st, err := stage.New(p.dir())
	if err != nil {
		return nil, err
	}
	if err := st.WriteFile("dh.pub.pem", []byte(pubPEM)); err != nil {
		st.Abort()
		return nil, err
	}
	if err := st.WriteFile("dh.priv.pem", []byte(privPEM)); err != nil {
		st.Abort()
		return nil, err
	}
	if peer != "" && hexid.IsHexHash(peer, 0) {
		// A failure writing the peer binding is non-fatal: the key is
		// still usable, just without a recorded peer.
		_ = st.WriteFile("peer", []byte(peer+"\n"))
	}

	if err := st.Publish(p.kexDir(hex)); err != nil {
		return nil, err
	}

	box := &KeyBox{Hex: hex, PeerHex: peer, PubPEM: pubPEM, PrivPEM: privPEM, PubKey: pubKey, PrivKey: privKey, Kind: kind}
	p.Kex[hex] = box
	return box, nil
}

// AddKexPubkey imports a peer-supplied ephemeral public key for later
// use when encrypting messages to this persona. DH and EC(DH) keys hash
// differently: a DH pubkey is a single big integer, an EC point is a
// pair, so DH keys are hashed by their raw value and EC keys by their
// normalized PEM.
func (p *Persona) AddKexPubkey(pubPEM string) (*KeyBox, error) {
	kind, pubKey, err := p.provider.ParsePublicPEM(pubPEM)
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "AddKexPubkey", err)
	}

	var hex string
	switch kind {
	case keyprovider.KindDH:
		dhPub, ok := pubKey.(keyprovider.DHPublicKey)
		if !ok {
			return nil, kerr.New(kerr.Malformed, "AddKexPubkey", errors.New("DH public key missing raw value"))
		}
		hex, err = p.provider.HashBignum(p.digest, dhPub.DHPublicBytes())
		if err != nil {
			return nil, kerr.New(kerr.CryptoError, "AddKexPubkey", err)
		}
	case keyprovider.KindEC:
		_, hex, err = p.provider.NormalizeAndHashPEM(p.digest, pubPEM)
		if err != nil {
			return nil, kerr.New(kerr.Malformed, "AddKexPubkey", err)
		}
	default:
		return nil, kerr.New(kerr.UnsupportedKeyType, "AddKexPubkey", errors.New("unknown key type"))
	}

	if existing, ok := p.Kex[hex]; ok {
		return existing, nil
	}

	st, err := stage.New(p.dir())
	if err != nil {
		return nil, err
	}
	if err := st.WriteFile("dh.pub.pem", []byte(pubPEM)); err != nil {
		st.Abort()
		return nil, err
	}
	if err := st.Publish(p.kexDir(hex)); err != nil {
		return nil, err
	}

	box := &KeyBox{Hex: hex, PubPEM: pubPEM, PubKey: pubKey, Kind: kind}
	p.Kex[hex] = box
	return box, nil
}

// DeleteKex removes a kex key's in-memory entry and directory. No-op on
// reserved sentinels.
func (p *Persona) DeleteKex(hex string) error {
	if isSentinel(hex) {
		return nil
	}
	if !hexid.IsHexHash(hex, 0) {
		return kerr.New(kerr.InvalidId, "DeleteKex", errors.New("invalid key id"))
	}
	delete(p.Kex, hex)
	if err := os.Remove(p.kexDir(hex)); err != nil && !os.IsNotExist(err) {
		return kerr.New(kerr.IoError, "DeleteKex", err)
	}
	return nil
}

// DeleteKexPrivate securely shreds dh.priv.pem and removes its used and
// peer siblings, clearing the in-memory private half while retaining
// the public half. No-op on reserved sentinels.
func (p *Persona) DeleteKexPrivate(hex string) error {
	if isSentinel(hex) {
		return nil
	}
	if !hexid.IsHexHash(hex, 0) {
		return kerr.New(kerr.InvalidId, "DeleteKexPrivate", errors.New("invalid key id"))
	}

	file := filepath.Join(p.kexDir(hex), "dh.priv.pem")
	if err := shredFile(file); err != nil {
		return err
	}
	os.Remove(filepath.Join(p.kexDir(hex), "used"))
	os.Remove(filepath.Join(p.kexDir(hex), "peer"))

	if box, ok := p.Kex[hex]; ok {
		box.PrivPEM = ""
		box.PrivKey = nil
	}
	return nil
}

// DeleteKexPublic unlinks dh.pub.pem and clears the in-memory public
// half, retaining the private half and the directory. No-op on
// reserved sentinels.
func (p *Persona) DeleteKexPublic(hex string) error {
	if isSentinel(hex) {
		return nil
	}
	if !hexid.IsHexHash(hex, 0) {
		return kerr.New(kerr.InvalidId, "DeleteKexPublic", errors.New("invalid key id"))
	}

	if err := os.Remove(filepath.Join(p.kexDir(hex), "dh.pub.pem")); err != nil && !os.IsNotExist(err) {
		return kerr.New(kerr.IoError, "DeleteKexPublic", err)
	}
	if box, ok := p.Kex[hex]; ok {
		box.PubPEM = ""
		box.PubKey = nil
	}
	return nil
}

// MarkUsed creates or removes the empty "used" marker file. Sentinels
// and invalid hex ids are silently ignored.
func (p *Persona) MarkUsed(hex string, used bool) {
	if !hexid.IsHexHash(hex, 0) || isSentinel(hex) {
		return
	}
	file := filepath.Join(p.kexDir(hex), "used")
	if !used {
		os.Remove(file)
		return
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		f.Close()
	}
}

// LinkSource overwrites srclink in place (truncate and write) with hex, recording the
// persona this one was derived from.
func (p *Persona) LinkSource(hex string) error {
	if !hexid.IsHexHash(hex, 0) {
		return kerr.New(kerr.InvalidId, "LinkSource", errors.New("invalid src id"))
	}
	file := filepath.Join(p.dir(), "srclink")
	if err := os.WriteFile(file, []byte(hex+"\n"), 0600); err != nil {
		return kerr.New(kerr.IoError, "LinkSource", err)
	}
	p.SrcLink = hex
	return nil
}

// FindKex looks up a kex key by hex, with the EC fallback: on an EC
// persona, ec_kex_id resolves to the long-term KeyBox rather than a
// stored ephemeral, covering the case where a peer has exhausted its
// supply of imported ephemeral ECDH keys.
func (p *Persona) FindKex(hex string) (*KeyBox, error) {
	if hex == keyprovider.ECKexID && p.Type == TypeEC {
		return p.Key, nil
	}
	box, ok := p.Kex[hex]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "FindKex", errors.New("no such key"))
	}
	return box, nil
}
