// Package keystore implements the directory-scoped container of
// personas: enumeration, short-form and exact lookup, and creation of
// new personas from externally supplied PEM material or freshly
// generated keypairs.
package keystore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantarax/keystore/internal/auditlog"
	"github.com/quantarax/keystore/internal/hexid"
	"github.com/quantarax/keystore/internal/kerr"
	"github.com/quantarax/keystore/internal/keyprovider"
	"github.com/quantarax/keystore/internal/observability"
	"github.com/quantarax/keystore/internal/persona"
	"github.com/quantarax/keystore/internal/stage"
)

var tracer = otel.Tracer("personactl-keystore")

// Keystore is a base directory and the map of personas loaded from it.
type Keystore struct {
	BaseDir  string
	Personas map[string]*persona.Persona

	Provider keyprovider.KeyProvider
	Digest   keyprovider.DigestAlg

	// Ledger is optional; when set, persona and kex lifecycle events are
	// appended to it. A nil Ledger disables auditing without changing
	// any other behavior.
	Ledger *auditlog.Ledger

	// Metrics is optional; when set, persona and kex lifecycle
	// operations update its counters and histograms. A nil Metrics
	// disables instrumentation without changing any other behavior.
	Metrics *observability.Metrics
}

// New binds a Keystore to base without touching the filesystem; call
// Load to populate the persona map from existing on-disk state.
func New(base string, provider keyprovider.KeyProvider, digest keyprovider.DigestAlg) *Keystore {
	return &Keystore{
		BaseDir:  base,
		Personas: make(map[string]*persona.Persona),
		Provider: provider,
		Digest:   digest,
	}
}

// record appends an audit event if a Ledger is attached. A write
// failure here is not propagated to the caller.
func (k *Keystore) record(event auditlog.Event, personaHex, kexHex, detail string) {
	if k.Ledger == nil {
		return
	}
	err := k.Ledger.Record(event, personaHex, kexHex, detail)
	if k.Metrics != nil {
		k.Metrics.RecordAuditWrite(string(event), err == nil)
		k.Metrics.RecordDatabaseOperation("insert", err == nil)
	}
}

// setPersonasLoaded syncs the resident-persona gauge if Metrics is
// attached.
func (k *Keystore) setPersonasLoaded() {
	if k.Metrics != nil {
		k.Metrics.PersonasLoaded.Set(float64(len(k.Personas)))
	}
}

// setKexActive syncs the per-persona active-kex-key gauge if Metrics is
// attached.
func (k *Keystore) setKexActive(p *persona.Persona) {
	if k.Metrics != nil {
		k.Metrics.KexKeysActive.WithLabelValues(p.Hex).Set(float64(len(p.Kex)))
	}
}

// Load enumerates every entry directly under the base directory and
// loads each one that passes the hex-id check. Entries that fail to
// load (half-created or corrupted) are silently skipped so the rest of
// the store remains usable.
func (k *Keystore) Load() error {
	entries, err := os.ReadDir(k.BaseDir)
	if err != nil {
		return kerr.New(kerr.IoError, "Load", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !hexid.IsHexHash(e.Name(), 0) {
			continue
		}
		p := persona.NewInMemory(k.BaseDir, e.Name(), "", k.Provider, k.Digest)
		if err := p.Load(""); err != nil {
			if k.Metrics != nil {
				k.Metrics.RecordPersonaLoadError()
			}
			continue
		}
		k.Personas[e.Name()] = p
		k.record(auditlog.EventPersonaLoaded, e.Name(), "", "")
	}
	k.setPersonasLoaded()
	return nil
}

// LoadOne loads exactly one persona by its full hex id, failing on any
// error from Persona.Load rather than swallowing it the way Load does.
func (k *Keystore) LoadOne(hex string) (*persona.Persona, error) {
	if !hexid.IsHexHash(hex, 0) {
		return nil, kerr.New(kerr.InvalidId, "LoadOne", errors.New("invalid hex id"))
	}
	p := persona.NewInMemory(k.BaseDir, hex, "", k.Provider, k.Digest)
	if err := p.Load(""); err != nil {
		if k.Metrics != nil {
			k.Metrics.RecordPersonaLoadError()
		}
		return nil, err
	}
	k.Personas[hex] = p
	k.record(auditlog.EventPersonaLoaded, hex, "", "")
	k.setPersonasLoaded()
	return p, nil
}

// FindPersona looks up a persona by its full hex id or, for a 16-char
// short form, by prefix match against every loaded persona.
func (k *Keystore) FindPersona(hex string) (*persona.Persona, error) {
	if !hexid.IsHexHashAnyLen(hex) {
		return nil, kerr.New(kerr.InvalidId, "FindPersona", errors.New("invalid id"))
	}

	if len(hex) == hexid.ShortLen {
		for id, p := range k.Personas {
			if len(id) >= hexid.ShortLen && id[:hexid.ShortLen] == hex {
				return p, nil
			}
		}
		return nil, kerr.New(kerr.NotFound, "FindPersona", errors.New("no such persona"))
	}

	p, ok := k.Personas[hex]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "FindPersona", errors.New("no such persona"))
	}
	return p, nil
}

// GenerateEC produces a fresh EC keypair PEM pair via the configured
// KeyProvider without persisting anything; callers pass the result to
// AddPersona to create the on-disk identity.
func (k *Keystore) GenerateEC() (pubPEM, privPEM string, err error) {
	start := time.Now()
	pubPEM, privPEM, err = k.Provider.GenerateEC()
	if k.Metrics != nil {
		k.Metrics.RecordCryptoOperation("generate_ec", err == nil, time.Since(start).Seconds())
	}
	return pubPEM, privPEM, err
}

// GenerateRSA produces a fresh RSA keypair PEM pair via the configured
// KeyProvider without persisting anything.
func (k *Keystore) GenerateRSA(progress keyprovider.ProgressFunc) (pubPEM, privPEM string, err error) {
	start := time.Now()
	pubPEM, privPEM, err = k.Provider.GenerateRSA(progress)
	if k.Metrics != nil {
		k.Metrics.RecordCryptoOperation("generate_rsa", err == nil, time.Since(start).Seconds())
	}
	return pubPEM, privPEM, err
}

// dhParamsNew is the dhPEM sentinel telling AddPersona to generate fresh
// DH domain parameters rather than parse a caller-supplied PEM.
const dhParamsNew = "new"

func typeDir(kind keyprovider.KeyKind) (string, error) {
	switch kind {
	case keyprovider.KindRSA:
		return "rsa", nil
	case keyprovider.KindEC:
		return "ec", nil
	default:
		return "", kerr.New(kerr.UnsupportedKeyType, "typeDir", errors.New("unknown persona key type"))
	}
}

// AddPersona creates a new persona on disk from externally supplied
// key material: the public PEM determines its identity hash, an
// optional private PEM must agree in type, and an optional dhPEM
// ("new" or a caller-supplied DH parameters PEM) provisions DH
// parameters for RSA personas.
func (k *Keystore) AddPersona(name, pubPEM, privPEM, dhPEM string) (*persona.Persona, error) {
	_, span := tracer.Start(context.Background(), "keystore.add_persona")
	defer span.End()

	_, hex, err := k.Provider.NormalizeAndHashPEM(k.Digest, pubPEM)
	if err != nil {
		return nil, kerr.New(kerr.Malformed, "AddPersona", err)
	}

	st, err := stage.New(k.BaseDir)
	if err != nil {
		return nil, err
	}

	if name != "" {
		if err := st.WriteFile("name", []byte(name+"\n")); err != nil {
			st.Abort()
			return nil, err
		}
	}

	pubKind, pubKey, err := k.Provider.ParsePublicPEM(pubPEM)
	if err != nil {
		st.Abort()
		return nil, kerr.New(kerr.Malformed, "AddPersona", err)
	}
	pubTypeDir, err := typeDir(pubKind)
	if err != nil {
		st.Abort()
		return nil, err
	}
	if err := st.WriteFile(pubTypeDir+".pub.pem", []byte(pubPEM)); err != nil {
		st.Abort()
		return nil, err
	}

	var privKey interface{}
	if privPEM != "" {
		privKind, pk, err := k.Provider.ParsePrivatePEM(privPEM)
		if err != nil {
			st.Abort()
			return nil, kerr.New(kerr.Malformed, "AddPersona", err)
		}
		if privKind != pubKind {
			st.Abort()
			return nil, kerr.New(kerr.KeyTypeMismatch, "AddPersona", errors.New("private key type disagrees with public key type"))
		}
		privTypeDir, err := typeDir(privKind)
		if err != nil {
			st.Abort()
			return nil, err
		}
		if err := st.WriteFile(privTypeDir+".priv.pem", []byte(privPEM)); err != nil {
			st.Abort()
			return nil, err
		}
		privKey = pk
	}

	final := filepath.Join(k.BaseDir, hex)
	if err := st.Publish(final); err != nil {
		if k.Metrics != nil && kerr.Of(err) == kerr.Conflict {
			k.Metrics.RecordStageConflict("persona")
		}
		return nil, err
	}

	p := persona.NewInMemory(k.BaseDir, hex, name, k.Provider, k.Digest)
	switch pubKind {
	case keyprovider.KindRSA:
		p.Type = persona.TypeRSA
	case keyprovider.KindEC:
		p.Type = persona.TypeEC
	}
	p.Key = &persona.KeyBox{Hex: hex, PubPEM: pubPEM, PrivPEM: privPEM, PubKey: pubKey, PrivKey: privKey, Kind: pubKind}

	k.Personas[hex] = p
	k.record(auditlog.EventPersonaCreated, hex, "", "name="+name)
	if k.Metrics != nil {
		k.Metrics.RecordPersonaCreated(p.Type.String())
	}
	k.setPersonasLoaded()

	span.SetAttributes(attribute.String("persona.hex", hex), attribute.String("persona.type", p.Type.String()))

	if dhPEM != "" && p.Type == persona.TypeRSA {
		dhStart := time.Now()
		var dhErr error
		if dhPEM == dhParamsNew {
			_, dhErr = p.NewDHParams()
		} else {
			_, dhErr = p.NewDHParamsFromPEM(dhPEM)
		}
		if k.Metrics != nil {
			k.Metrics.RecordDHParamGeneration(time.Since(dhStart).Seconds())
		}
		if dhErr != nil {
			return nil, dhErr
		}
	}

	return p, nil
}

// GenerateKexKey draws a fresh ephemeral kex key for p and audits the
// event if a Ledger is attached.
func (k *Keystore) GenerateKexKey(p *persona.Persona, peer string) (*persona.KeyBox, error) {
	_, span := tracer.Start(context.Background(), "keystore.generate_kex_key")
	defer span.End()
	span.SetAttributes(attribute.String("persona.hex", p.Hex))

	start := time.Now()
	box, err := p.GenerateKexKey(peer)
	if k.Metrics != nil {
		k.Metrics.RecordCryptoOperation("generate_kex_key", err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	k.record(auditlog.EventKexGenerated, p.Hex, box.Hex, "kind="+box.Kind.String())
	if k.Metrics != nil {
		k.Metrics.RecordKexKeyGenerated(box.Kind.String())
	}
	k.setKexActive(p)
	return box, nil
}

// AddKexPubkey imports a peer kex public key for p and audits the event
// if a Ledger is attached.
func (k *Keystore) AddKexPubkey(p *persona.Persona, pubPEM string) (*persona.KeyBox, error) {
	start := time.Now()
	box, err := p.AddKexPubkey(pubPEM)
	if k.Metrics != nil {
		k.Metrics.RecordCryptoOperation("import_kex_pubkey", err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	k.record(auditlog.EventKexImported, p.Hex, box.Hex, "kind="+box.Kind.String())
	if k.Metrics != nil {
		k.Metrics.RecordKexKeyImported(box.Kind.String())
	}
	k.setKexActive(p)
	return box, nil
}

// DeleteKexPrivate shreds p's kex private key identified by hex and
// audits the event if a Ledger is attached.
func (k *Keystore) DeleteKexPrivate(p *persona.Persona, hex string) error {
	if err := p.DeleteKexPrivate(hex); err != nil {
		return err
	}
	k.record(auditlog.EventKexPrivateShred, p.Hex, hex, "")
	if k.Metrics != nil {
		k.Metrics.RecordKexKeyShredded()
	}
	k.setKexActive(p)
	return nil
}

// DeleteKex removes p's kex key identified by hex and audits the event
// if a Ledger is attached.
func (k *Keystore) DeleteKex(p *persona.Persona, hex string) error {
	if err := p.DeleteKex(hex); err != nil {
		return err
	}
	k.record(auditlog.EventKexDeleted, p.Hex, hex, "")
	k.setKexActive(p)
	return nil
}
