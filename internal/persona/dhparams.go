package persona

import (
	"os"
	"path/filepath"

	"github.com/quantarax/keystore/internal/kerr"
)

// dhDefaultBitLen is used when NewDHParams generates fresh parameters
// rather than importing a caller-supplied PEM.
const dhDefaultBitLen = 2048

// NewDHParams generates fresh DH domain parameters via the provider and
// overwrites dhparams.pem in place (truncate and write). Only meaningful for RSA personas;
// EC personas derive kex keys from ephemeral EC keypairs instead.
func (p *Persona) NewDHParams() (*DHParamsBox, error) {
	params, pem, err := p.provider.GenerateDHParams(dhDefaultBitLen)
	if err != nil {
		return nil, err
	}
	if err := p.writeDHParamsFile(pem); err != nil {
		return nil, err
	}
	p.DHParams = &DHParamsBox{Params: params, PEM: pem}
	return p.DHParams, nil
}

// NewDHParamsFromPEM writes a caller-supplied DH parameters PEM, then
// reparses it from the written file as a verification pass.
func (p *Persona) NewDHParamsFromPEM(pem string) (*DHParamsBox, error) {
	if err := p.writeDHParamsFile(pem); err != nil {
		return nil, err
	}
	written, err := os.ReadFile(filepath.Join(p.dir(), "dhparams.pem"))
	if err != nil {
		return nil, kerr.New(kerr.IoError, "NewDHParamsFromPEM", err)
	}
	params, err := p.provider.ParseDHParamsPEM(string(written))
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "NewDHParamsFromPEM", err)
	}
	p.DHParams = &DHParamsBox{Params: params, PEM: string(written)}
	return p.DHParams, nil
}

func (p *Persona) writeDHParamsFile(pem string) error {
	file := filepath.Join(p.dir(), "dhparams.pem")
	if err := os.WriteFile(file, []byte(pem), 0600); err != nil {
		return kerr.New(kerr.IoError, "writeDHParamsFile", err)
	}
	return nil
}
