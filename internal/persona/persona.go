// Package persona implements one identity's on-disk state: its
// long-term RSA or EC keypair, optional DH domain parameters, its
// ephemeral key-exchange (kex) keys, and an optional link to a source
// persona. Keystore owns a map of these keyed by hex identifier;
// Persona itself owns everything beneath its own directory.
package persona

import (
	"crypto"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantarax/keystore/internal/hexid"
	"github.com/quantarax/keystore/internal/kerr"
	"github.com/quantarax/keystore/internal/keyprovider"
)

// Type is the persona's key-family tag. RSA personas may carry DH
// domain parameters; EC personas perform ECDH with ephemeral EC
// keypairs and never have a DHParamsBox.
type Type int

const (
	TypeUnknown Type = iota
	TypeRSA
	TypeEC
)

func (t Type) String() string {
	switch t {
	case TypeRSA:
		return "rsa"
	case TypeEC:
		return "ec"
	default:
		return "unknown"
	}
}

// KeyBox is a public/private key pair, possibly with only one half
// present. Own key boxes (Persona.Key) always have their public half on
// a successful load, and their private half only when the persona's
// private PEM file exists; kex KeyBoxes may have either half missing.
type KeyBox struct {
	Hex      string
	PeerHex  string
	PubPEM   string
	PrivPEM  string
	PubKey   crypto.PublicKey
	PrivKey  crypto.PrivateKey
	Kind     keyprovider.KeyKind
}

// HasPublic reports whether the public half is loaded.
func (b *KeyBox) HasPublic() bool { return b.PubPEM != "" }

// HasPrivate reports whether the private half is loaded.
func (b *KeyBox) HasPrivate() bool { return b.PrivPEM != "" }

// DHParamsBox holds an RSA persona's finite-field DH domain parameters.
type DHParamsBox struct {
	Params *keyprovider.DHParams
	PEM    string
}

// Persona is one identity's full in-memory state, mirroring the
// directory rooted at <base>/<hex>/.
type Persona struct {
	BaseDir  string
	Hex      string
	Name     string
	SrcLink  string
	Type     Type
	Key      *KeyBox
	DHParams *DHParamsBox
	Kex      map[string]*KeyBox

	provider keyprovider.KeyProvider
	digest   keyprovider.DigestAlg
}

// NewInMemory is a pure constructor: it performs no I/O and leaves the
// Persona ready for either Load (read existing state) or the caller
// populating it directly (fresh creation via Keystore.AddPersona).
func NewInMemory(baseDir, hex, name string, provider keyprovider.KeyProvider, digest keyprovider.DigestAlg) *Persona {
	return &Persona{
		BaseDir:  baseDir,
		Hex:      hex,
		Name:     name,
		Kex:      make(map[string]*KeyBox),
		provider: provider,
		digest:   digest,
	}
}

func (p *Persona) dir() string {
	return filepath.Join(p.BaseDir, p.Hex)
}

// CheckType probes rsa.pub.pem then ec.pub.pem to determine the
// persona's key family without reading either file's contents.
func (p *Persona) CheckType() error {
	if !hexid.IsHexHash(p.Hex, 0) {
		return kerr.New(kerr.InvalidId, "CheckType", errors.New("not a valid persona id"))
	}

	if _, err := os.Stat(filepath.Join(p.dir(), "rsa.pub.pem")); err == nil {
		p.Type = TypeRSA
		return nil
	}
	if _, err := os.Stat(filepath.Join(p.dir(), "ec.pub.pem")); err == nil {
		p.Type = TypeEC
		return nil
	}
	return kerr.New(kerr.NotFound, "CheckType", errors.New("neither RSA nor EC keys found for persona"))
}

// readTrimmedLine reads a small text file and returns its first line
// with a single trailing newline stripped, or "" if the file is absent.
func readTrimmedLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	s := string(data)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "\n"), nil
}

// Load reconstructs the persona's in-memory state from disk: resolve
// type, read name/srclink, read the long-term keypair, read DH params
// for RSA personas, then either load one specific kex key, skip kex
// loading for a reserved sentinel, or enumerate and load every kex
// subdirectory.
func (p *Persona) Load(kexHex string) error {
	if !hexid.IsHexHash(p.Hex, 0) {
		return kerr.New(kerr.InvalidId, "Load", errors.New("not a valid persona id"))
	}
	if kexHex != "" && !isSentinel(kexHex) && !hexid.IsHexHash(kexHex, 0) {
		return kerr.New(kerr.InvalidId, "Load", errors.New("not a valid session-key hex id"))
	}

	if p.Type == TypeUnknown {
		if err := p.CheckType(); err != nil {
			return err
		}
	}

	name, err := readTrimmedLine(filepath.Join(p.dir(), "name"))
	if err != nil {
		return kerr.New(kerr.IoError, "Load", err)
	}
	p.Name = name

	srclink, err := readTrimmedLine(filepath.Join(p.dir(), "srclink"))
	if err != nil {
		return kerr.New(kerr.IoError, "Load", err)
	}
	p.SrcLink = srclink

	pubPath := filepath.Join(p.dir(), p.Type.String()+".pub.pem")
	pubData, err := os.ReadFile(pubPath)
	if err != nil {
		return kerr.New(kerr.NotFound, "Load", err)
	}
	pubPEM := string(pubData)
	kind, pubKey, err := p.provider.ParsePublicPEM(pubPEM)
	if err != nil {
		return kerr.New(kerr.Malformed, "Load", err)
	}

	box := &KeyBox{Hex: p.Hex, PubPEM: pubPEM, PubKey: pubKey, Kind: kind}

	privPath := filepath.Join(p.dir(), p.Type.String()+".priv.pem")
	if privData, err := os.ReadFile(privPath); err == nil {
		privPEM := string(privData)
		_, privKey, err := p.provider.ParsePrivatePEM(privPEM)
		if err != nil {
			return kerr.New(kerr.Malformed, "Load", err)
		}
		box.PrivPEM = privPEM
		box.PrivKey = privKey
	} else if !os.IsNotExist(err) {
		return kerr.New(kerr.IoError, "Load", err)
	}
	p.Key = box

	if p.Type == TypeRSA {
		dhPath := filepath.Join(p.dir(), "dhparams.pem")
		if dhData, err := os.ReadFile(dhPath); err == nil {
			params, err := p.provider.ParseDHParamsPEM(string(dhData))
			if err != nil {
				return kerr.New(kerr.Malformed, "Load", err)
			}
			p.DHParams = &DHParamsBox{Params: params, PEM: string(dhData)}
		} else if !os.IsNotExist(err) {
			return kerr.New(kerr.IoError, "Load", err)
		}
	}

	if kexHex == keyprovider.RSAKexID || kexHex == keyprovider.ECKexID {
		return nil
	}
	if kexHex != "" {
		return p.LoadKex(kexHex)
	}

	entries, err := os.ReadDir(p.dir())
	if err != nil {
		return kerr.New(kerr.IoError, "Load", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !hexid.IsHexHash(e.Name(), 0) {
			continue
		}
		// Stale kex directories are tolerated; only their own load
		// failures are swallowed, never persona load itself.
		_ = p.LoadKex(e.Name())
	}
	return nil
}
