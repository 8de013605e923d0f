package keyprovider

import "crypto/elliptic"

// OpenSSLLikeProvider is the default KeyProvider implementation, built on
// Go's standard crypto/rsa, crypto/ecdsa and crypto/x509 packages.
// crypto/rand is the assumed system random source.
type OpenSSLLikeProvider struct {
	RSABits           int
	RSAPublicExponent int
	Curve             elliptic.Curve
}

// Default RSA/EC parameters: a 4096-bit RSA modulus, public exponent
// 65537, and NIST P-256 for EC keys.
const (
	DefaultRSABits     = 4096
	DefaultRSAExponent = 65537
)

// NewOpenSSLLikeProvider constructs a provider with the given RSA modulus
// length and named EC curve ("P256", "P384", "P521"; defaults to P256).
func NewOpenSSLLikeProvider(rsaBits int, curveName string) *OpenSSLLikeProvider {
	if rsaBits <= 0 {
		rsaBits = DefaultRSABits
	}
	return &OpenSSLLikeProvider{
		RSABits:           rsaBits,
		RSAPublicExponent: DefaultRSAExponent,
		Curve:             curveByName(curveName),
	}
}

var _ KeyProvider = (*OpenSSLLikeProvider)(nil)
