//go:build cgo

package keyprovider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"math/big"

	"github.com/miekg/pkcs11"

	"github.com/quantarax/keystore/internal/kerr"
)

func randRead(b []byte) (int, error) {
	return rand.Read(b)
}

// curveOID maps a configured elliptic.Curve to its ASN.1 namedCurve OID,
// the form CKA_EC_PARAMS expects.
func curveOID(curve elliptic.Curve) (asn1.ObjectIdentifier, error) {
	switch curve {
	case elliptic.P256():
		return asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}, nil
	case elliptic.P384():
		return asn1.ObjectIdentifier{1, 3, 132, 0, 34}, nil
	case elliptic.P521():
		return asn1.ObjectIdentifier{1, 3, 132, 0, 35}, nil
	default:
		return nil, errors.New("unsupported curve for HSM key generation")
	}
}

// HSMProvider is a KeyProvider whose RSA and EC long-term keypairs are
// generated on, and never leave, a PKCS#11 token. DH parameter/keypair
// generation, PEM parsing and hashing have no HSM-specific variant and
// are delegated to an embedded OpenSSLLikeProvider.
type HSMProvider struct {
	LibPath string
	Slot    uint
	PIN     string

	soft *OpenSSLLikeProvider
}

// NewHSMProvider opens no session itself; each generation call opens,
// uses and tears down its own session rather than holding one for the
// provider's lifetime.
func NewHSMProvider(libPath string, slot uint, pin string, soft *OpenSSLLikeProvider) *HSMProvider {
	if soft == nil {
		soft = NewOpenSSLLikeProvider(0, "P256")
	}
	return &HSMProvider{LibPath: libPath, Slot: slot, PIN: pin, soft: soft}
}

var _ KeyProvider = (*HSMProvider)(nil)

func (h *HSMProvider) session() (*pkcs11.Ctx, pkcs11.SessionHandle, error) {
	p := pkcs11.New(h.LibPath)
	if p == nil {
		return nil, 0, kerr.New(kerr.CryptoError, "hsm.session", errors.New("failed to load PKCS#11 library"))
	}
	if err := p.Initialize(); err != nil {
		return nil, 0, kerr.New(kerr.CryptoError, "hsm.session", err)
	}
	session, err := p.OpenSession(h.Slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		p.Finalize()
		return nil, 0, kerr.New(kerr.CryptoError, "hsm.session", err)
	}
	if err := p.Login(session, pkcs11.CKU_USER, h.PIN); err != nil {
		p.CloseSession(session)
		p.Finalize()
		return nil, 0, kerr.New(kerr.CryptoError, "hsm.session", err)
	}
	return p, session, nil
}

func (h *HSMProvider) closeSession(p *pkcs11.Ctx, session pkcs11.SessionHandle) {
	p.Logout(session)
	p.CloseSession(session)
	p.Finalize()
}

// GenerateRSA generates an RSA keypair inside the token via
// C_GenerateKeyPair and returns the public half as PEM; the private
// half is a token-resident handle reference, not exportable PKCS#8, so
// privPEM carries a CKA_ID marker block instead of key material.
func (h *HSMProvider) GenerateRSA(progress ProgressFunc) (pubPEM, privPEM string, err error) {
	emit := func(b byte) {
		if progress != nil {
			progress(b)
		}
	}

	p, session, serr := h.session()
	if serr != nil {
		return "", "", serr
	}
	defer h.closeSession(p, session)

	emit('o')

	id := make([]byte, 16)
	if _, err := randRead(id); err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, h.soft.RSABits),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(int64(h.soft.RSAPublicExponent)).Bytes()),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
	}

	pubHandle, _, err := p.GenerateKeyPair(session, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)}, pubTemplate, privTemplate)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	emit('O')

	attrs, err := p.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	emit('+')

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	emit('.')

	return writePEMBlock("PUBLIC KEY", pubDER), writePEMBlock("HSM KEY HANDLE", id), nil
}

// GenerateEC generates an EC keypair inside the token on the provider's
// configured curve.
func (h *HSMProvider) GenerateEC() (pubPEM, privPEM string, err error) {
	p, session, serr := h.session()
	if serr != nil {
		return "", "", serr
	}
	defer h.closeSession(p, session)

	oid, err := curveOID(h.soft.Curve)
	if err != nil {
		return "", "", kerr.New(kerr.UnsupportedKeyType, "GenerateEC", err)
	}
	oidDER, err := asn1.Marshal(oid)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	id := make([]byte, 16)
	if _, err := randRead(id); err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, oidDER),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
	}

	pubHandle, _, err := p.GenerateKeyPair(session, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)}, pubTemplate, privTemplate)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	attrs, err := p.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	x, y := elliptic.UnmarshalCompressed(h.soft.Curve, attrs[0].Value)
	if x == nil {
		x, y = elliptic.Unmarshal(h.soft.Curve, attrs[0].Value)
	}
	if x == nil {
		return "", "", kerr.New(kerr.Malformed, "GenerateEC", errors.New("token returned malformed EC point"))
	}
	pub := &ecdsa.PublicKey{Curve: h.soft.Curve, X: x, Y: y}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	return writePEMBlock("PUBLIC KEY", pubDER), writePEMBlock("HSM KEY HANDLE", id), nil
}

func (h *HSMProvider) GenerateDHParams(bitLen int) (*DHParams, string, error) {
	return h.soft.GenerateDHParams(bitLen)
}

func (h *HSMProvider) GenerateDHKeypair(params *DHParams) (pubPEM, privPEM string, pubBytes []byte, err error) {
	return h.soft.GenerateDHKeypair(params)
}

func (h *HSMProvider) ParseDHParamsPEM(pemStr string) (*DHParams, error) {
	return h.soft.ParseDHParamsPEM(pemStr)
}

func (h *HSMProvider) HashBignum(alg DigestAlg, raw []byte) (string, error) {
	return h.soft.HashBignum(alg, raw)
}

func (h *HSMProvider) NormalizeAndHashPEM(alg DigestAlg, pemIn string) (string, string, error) {
	return h.soft.NormalizeAndHashPEM(alg, pemIn)
}

func (h *HSMProvider) ParsePublicPEM(pemStr string) (KeyKind, crypto.PublicKey, error) {
	return h.soft.ParsePublicPEM(pemStr)
}

func (h *HSMProvider) ParsePrivatePEM(pemStr string) (KeyKind, crypto.PrivateKey, error) {
	return h.soft.ParsePrivatePEM(pemStr)
}
