package keyprovider

import (
	"crypto/rand"
	"encoding/asn1"
	"errors"
	"math/big"

	"github.com/quantarax/keystore/internal/kerr"
)

// dhGenerator is fixed at 5.
const dhGenerator = 5

// dhParamsASN1 mirrors the classic OpenSSL "DH PARAMETERS" PEM block: a
// DER SEQUENCE of prime and generator. dhPublicASN1/dhPrivateASN1 are
// this module's own (non-OpenSSL-wire-compatible, but internally
// consistent) encodings for the ephemeral DH keypair halves; no
// third-party package provides classical finite-field DH, so the wire
// shape is ours to define.
type dhParamsASN1 struct {
	P *big.Int
	G *big.Int
}

type dhPublicASN1 struct {
	P *big.Int
	G *big.Int
	Y *big.Int // public value g^x mod p
}

// DHPublicBytes returns the big-endian byte serialization of the raw
// public integer, the representation a finite-field DH kex key's
// identity hash is computed over.
func (d *dhPublicASN1) DHPublicBytes() []byte { return d.Y.Bytes() }

type dhPrivateASN1 struct {
	P *big.Int
	G *big.Int
	Y *big.Int
	X *big.Int // private exponent
}

// GenerateDHParams generates fresh safe-prime DH domain parameters of the
// requested bit length with generator 5.
func (p *OpenSSLLikeProvider) GenerateDHParams(bitLen int) (*DHParams, string, error) {
	if bitLen < 256 {
		return nil, "", kerr.New(kerr.CryptoError, "GenerateDHParams", errors.New("bit length too small"))
	}

	prime, err := safePrime(bitLen)
	if err != nil {
		return nil, "", kerr.New(kerr.CryptoError, "GenerateDHParams", err)
	}

	params := &DHParams{P: prime, G: big.NewInt(dhGenerator)}
	if err := checkDHParams(params); err != nil {
		return nil, "", kerr.New(kerr.CryptoError, "GenerateDHParams", err)
	}

	der, err := asn1.Marshal(dhParamsASN1{P: params.P, G: params.G})
	if err != nil {
		return nil, "", kerr.New(kerr.CryptoError, "GenerateDHParams", err)
	}
	return params, writePEMBlock("DH PARAMETERS", der), nil
}

// ParseDHParamsPEM parses a "DH PARAMETERS" PEM block written by
// GenerateDHParams (or persona.NewDHParams's caller-supplied variant).
func (p *OpenSSLLikeProvider) ParseDHParamsPEM(pemStr string) (*DHParams, error) {
	der, err := decodePEMBlock(pemStr, "DH PARAMETERS")
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "ParseDHParamsPEM", err)
	}
	var raw dhParamsASN1
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, kerr.New(kerr.Malformed, "ParseDHParamsPEM", err)
	}
	if raw.P == nil || raw.G == nil || raw.P.Sign() <= 0 || raw.G.Sign() <= 0 {
		return nil, kerr.New(kerr.Malformed, "ParseDHParamsPEM", errors.New("invalid DH parameters"))
	}
	return &DHParams{P: raw.P, G: raw.G}, nil
}

// GenerateDHKeypair reads params without modifying them, generates a fresh keypair, runs a
// consistency check and emits PEMs plus the raw big-endian public bytes
// (used for the raw-bignum hash variant).
func (p *OpenSSLLikeProvider) GenerateDHKeypair(params *DHParams) (pubPEM, privPEM string, pubBytes []byte, err error) {
	if params == nil || params.P == nil || params.G == nil {
		return "", "", nil, kerr.New(kerr.PreconditionFailed, "GenerateDHKeypair", errors.New("no DH parameters"))
	}

	// Private exponent x uniformly random in [2, p-2]; public y = g^x mod p.
	pMinus3 := new(big.Int).Sub(params.P, big.NewInt(3))
	x, err := rand.Int(rand.Reader, pMinus3)
	if err != nil {
		return "", "", nil, kerr.New(kerr.CryptoError, "GenerateDHKeypair", err)
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(params.G, x, params.P)

	if err := checkDHKeypair(params, y); err != nil {
		return "", "", nil, kerr.New(kerr.CryptoError, "GenerateDHKeypair", err)
	}

	pubDER, err := asn1.Marshal(dhPublicASN1{P: params.P, G: params.G, Y: y})
	if err != nil {
		return "", "", nil, kerr.New(kerr.CryptoError, "GenerateDHKeypair", err)
	}
	privDER, err := asn1.Marshal(dhPrivateASN1{P: params.P, G: params.G, Y: y, X: x})
	if err != nil {
		return "", "", nil, kerr.New(kerr.CryptoError, "GenerateDHKeypair", err)
	}

	return writePEMBlock("DH PUBLIC KEY", pubDER), writePEMBlock("DH PRIVATE KEY", privDER), y.Bytes(), nil
}

func parseDHPublicBlock(der []byte) (*dhPublicASN1, error) {
	var raw dhPublicASN1
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, err
	}
	if raw.P == nil || raw.G == nil || raw.Y == nil {
		return nil, errNotDHBlock
	}
	return &raw, nil
}

func parseDHPrivateBlock(der []byte) (*dhPrivateASN1, error) {
	var raw dhPrivateASN1
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, err
	}
	if raw.P == nil || raw.G == nil || raw.Y == nil || raw.X == nil {
		return nil, errNotDHBlock
	}
	return &raw, nil
}

// safePrime generates a random safe prime p = 2q+1 (q prime) of the
// requested bit length.
func safePrime(bitLen int) (*big.Int, error) {
	for {
		q, err := rand.Prime(rand.Reader, bitLen-1)
		if err != nil {
			return nil, err
		}
		p := new(big.Int).Lsh(q, 1)
		p.Add(p, big.NewInt(1))
		if p.ProbablyPrime(20) {
			return p, nil
		}
	}
}

// checkDHParams validates the parameters: p must be prime, and (p-1)/2
// must also be prime (safe prime). Guaranteed by construction in
// safePrime but re-verified here since GenerateDHParams may in
// principle receive externally supplied parameters in the future.
func checkDHParams(params *DHParams) error {
	if !params.P.ProbablyPrime(20) {
		return errors.New("p is not prime")
	}
	q := new(big.Int).Sub(params.P, big.NewInt(1))
	q.Rsh(q, 1)
	if !q.ProbablyPrime(20) {
		return errors.New("p is not a safe prime")
	}
	return nil
}

// checkDHKeypair validates the public-key range: 1 < y < p-1.
func checkDHKeypair(params *DHParams, y *big.Int) error {
	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(params.P, one)
	if y.Cmp(one) <= 0 || y.Cmp(pMinus1) >= 0 {
		return errors.New("generated public value out of range")
	}
	return nil
}
