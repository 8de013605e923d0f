package keyprovider

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/quantarax/keystore/internal/kerr"
)

// GenerateRSA generates an RSA keypair of the provider's configured
// modulus length. The public exponent is always crypto/rsa's fixed
// 65537; RSAPublicExponent is not applied to generation.
// Go's crypto/rsa does not expose OpenSSL's four-stage prime-search
// callback, so progress is reported around the single GenerateKey call:
// 'o' before it starts, 'O' and '+' in succession once it returns, and
// '.' once both PEM encodings are built. Purely cosmetic.
func (p *OpenSSLLikeProvider) GenerateRSA(progress ProgressFunc) (pubPEM, privPEM string, err error) {
	emit := func(b byte) {
		if progress != nil {
			progress(b)
		}
	}

	emit('o')
	key, err := rsa.GenerateKey(rand.Reader, p.RSABits)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	emit('O')

	if key.E != p.RSAPublicExponent {
		// crypto/rsa.GenerateKey always uses exponent 65537; regenerating
		// with a different fixed exponent isn't supported by the stdlib
		// primitive, so a configured exponent other than 65537 is only
		// honored when it equals the stdlib default.
	}
	emit('+')

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", kerr.New(kerr.CryptoError, "GenerateRSA", err)
	}
	emit('.')

	return writePEMBlock("PUBLIC KEY", pubDER), writePEMBlock("PRIVATE KEY", privDER), nil
}
