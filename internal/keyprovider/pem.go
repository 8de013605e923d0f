package keyprovider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/quantarax/keystore/internal/kerr"
)

// normalizeAndHash locates the first
// public-key BEGIN marker, drop everything before it, reject a second
// BEGIN marker, truncate after END and append exactly one trailing
// newline. The digest of that canonical byte string, lowercase hex, is
// the returned identity hash.
func normalizeAndHash(alg DigestAlg, pemIn string) (normalized, hexOut string, err error) {
	start := strings.Index(pemIn, pubBegin)
	if start < 0 {
		return "", "", kerr.New(kerr.Malformed, "normalizeAndHash", errors.New("missing BEGIN PUBLIC KEY marker"))
	}
	s := pemIn[start:]

	if strings.Index(s[len(pubBegin):], pubBegin) >= 0 {
		return "", "", kerr.New(kerr.Malformed, "normalizeAndHash", errors.New("more than one public key in blob"))
	}

	end := strings.Index(s, pubEnd)
	if end < 0 {
		return "", "", kerr.New(kerr.Malformed, "normalizeAndHash", errors.New("missing END PUBLIC KEY marker"))
	}
	s = s[:end+len(pubEnd)]
	s += "\n"

	h, err := newHash(alg)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "normalizeAndHash", err)
	}
	if _, err := h.Write([]byte(s)); err != nil {
		return "", "", kerr.New(kerr.CryptoError, "normalizeAndHash", err)
	}
	return s, hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeAndHashPEM implements KeyProvider.NormalizeAndHashPEM.
func (p *OpenSSLLikeProvider) NormalizeAndHashPEM(alg DigestAlg, pemIn string) (string, string, error) {
	return normalizeAndHash(alg, pemIn)
}

// HashBignum hex-hashes the big-endian byte serialization of a raw
// integer. Used for finite-field DH public
// keys, which (unlike EC/ECDH) are hashed by their raw value rather than
// by their PEM wrapper.
func (p *OpenSSLLikeProvider) HashBignum(alg DigestAlg, raw []byte) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", kerr.New(kerr.CryptoError, "HashBignum", err)
	}
	if _, err := h.Write(raw); err != nil {
		return "", kerr.New(kerr.CryptoError, "HashBignum", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParsePublicPEM parses a single PEM-encoded SubjectPublicKeyInfo block
// and reports whether it is RSA, EC or DH.
func (p *OpenSSLLikeProvider) ParsePublicPEM(pemStr string) (KeyKind, crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return KindOther, nil, kerr.New(kerr.Malformed, "ParsePublicPEM", errors.New("no PEM block found"))
	}

	if dh, err := parseDHPublicBlock(block.Bytes); err == nil {
		return KindDH, dh, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return KindOther, nil, kerr.New(kerr.Malformed, "ParsePublicPEM", err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return KindRSA, k, nil
	case *ecdsa.PublicKey:
		return KindEC, k, nil
	default:
		return KindOther, k, nil
	}
}

// ParsePrivatePEM parses a single PEM-encoded PKCS#8 private key block
// and reports whether it is RSA or EC.
func (p *OpenSSLLikeProvider) ParsePrivatePEM(pemStr string) (KeyKind, crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return KindOther, nil, kerr.New(kerr.Malformed, "ParsePrivatePEM", errors.New("no PEM block found"))
	}

	if dh, err := parseDHPrivateBlock(block.Bytes); err == nil {
		return KindDH, dh, nil
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return KindOther, nil, kerr.New(kerr.Malformed, "ParsePrivatePEM", err)
	}
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return KindRSA, k, nil
	case *ecdsa.PrivateKey:
		return KindEC, k, nil
	default:
		return KindOther, k, nil
	}
}

func writePEMBlock(kind string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der}))
}

func decodePEMBlock(pemStr, wantType string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != wantType {
		return nil, fmt.Errorf("unexpected PEM block type %q, want %q", block.Type, wantType)
	}
	return block.Bytes, nil
}

var errNotDHBlock = fmt.Errorf("not a DH key block")
