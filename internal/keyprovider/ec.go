package keyprovider

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"

	"github.com/quantarax/keystore/internal/kerr"
)

// GenerateEC generates an EC keypair on the provider's configured named
// curve. crypto/ecdsa.GenerateKey only ever returns a point on the
// requested curve, so there is no separate curve-validity check to run
// afterward.
func (p *OpenSSLLikeProvider) GenerateEC() (pubPEM, privPEM string, err error) {
	key, err := ecdsa.GenerateKey(p.Curve, rand.Reader)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateEC", err)
	}

	return writePEMBlock("PUBLIC KEY", pubDER), writePEMBlock("PRIVATE KEY", privDER), nil
}

// curveByName resolves a configured curve name to its elliptic.Curve.
func curveByName(name string) elliptic.Curve {
	switch name {
	case "P384":
		return elliptic.P384()
	case "P521":
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}
