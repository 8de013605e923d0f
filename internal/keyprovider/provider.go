// Package keyprovider abstracts the underlying cryptographic library the
// persona keystore depends on: RSA/EC keypair generation, DH parameter and
// keypair generation, PEM parsing/emission, and public-key hashing. This
// exists so persona and
// keystore never call crypto/x509 directly — a test double can implement
// the same interface deterministically.
package keyprovider

import (
	"crypto"
	"math/big"
)

// DigestAlg selects the hash function used for persona and kex-key
// identity hashing. SHA-256 is the default (64-char hex
// ids); SHA3-256 is offered as a second option.
type DigestAlg int

const (
	SHA256 DigestAlg = iota
	SHA3_256
)

// HexLen returns the hex-encoded digest length for the algorithm.
func (d DigestAlg) HexLen() int {
	switch d {
	case SHA3_256:
		return 64
	default:
		return 64
	}
}

func (d DigestAlg) String() string {
	if d == SHA3_256 {
		return "sha3-256"
	}
	return "sha256"
}

// KeyKind identifies the algorithm family of a parsed PEM key.
type KeyKind int

const (
	KindOther KeyKind = iota
	KindRSA
	KindEC
	KindDH
)

func (k KeyKind) String() string {
	switch k {
	case KindRSA:
		return "rsa"
	case KindEC:
		return "ec"
	case KindDH:
		return "dh"
	default:
		return "other"
	}
}

// DHPublicKey is implemented by a parsed finite-field DH public key,
// letting callers recover the raw big-endian bytes its identity hash is
// computed over without needing to know the concrete PEM encoding.
type DHPublicKey interface {
	DHPublicBytes() []byte
}

// DHParams wraps finite-field Diffie-Hellman domain parameters: prime P
// and generator G. No stdlib or third-party package covers this, so it
// is a small first-class type rather than reaching for an external DH
// package.
type DHParams struct {
	P *big.Int
	G *big.Int
}

// ProgressFunc receives the four cosmetic RSA-generation progress markers
// marks: 'o', 'O', '+', '.'.
type ProgressFunc func(marker byte)

// KeyProvider is the cryptographic dependency boundary. All persona and
// keystore code depends on this interface, never on concrete crypto
// package calls, so a deterministic fake can stand in for tests.
type KeyProvider interface {
	GenerateEC() (pubPEM, privPEM string, err error)
	GenerateRSA(progress ProgressFunc) (pubPEM, privPEM string, err error)

	GenerateDHParams(bitLen int) (params *DHParams, pem string, err error)
	GenerateDHKeypair(params *DHParams) (pubPEM, privPEM string, pubBytes []byte, err error)
	ParseDHParamsPEM(pem string) (*DHParams, error)

	HashBignum(alg DigestAlg, raw []byte) (string, error)
	NormalizeAndHashPEM(alg DigestAlg, pemIn string) (normalized, hex string, err error)

	ParsePublicPEM(pem string) (KeyKind, crypto.PublicKey, error)
	ParsePrivatePEM(pem string) (KeyKind, crypto.PrivateKey, error)
}
