// Command personactl manages personas in a filesystem-backed keystore:
// creating identities, generating and importing ephemeral kex keys, and
// inspecting or deleting what is on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/quantarax/keystore/internal/auditlog"
	"github.com/quantarax/keystore/internal/config"
	"github.com/quantarax/keystore/internal/kerr"
	"github.com/quantarax/keystore/internal/keyprovider"
	"github.com/quantarax/keystore/internal/keystore"
	"github.com/quantarax/keystore/internal/observability"
	"github.com/quantarax/keystore/internal/validation"
)

var (
	configPath string
	baseDir    string
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), "personactl")
	if err != nil {
		fatal(err)
	}
	defer shutdownTracing(context.Background())

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "create":
		createCmd(args)
	case "list":
		listCmd(args)
	case "show":
		showCmd(args)
	case "generate-kex":
		generateKexCmd(args)
	case "import-kex":
		importKexCmd(args)
	case "delete-kex":
		deleteKexCmd(args)
	case "history":
		historyCmd(args)
	case "health":
		healthCmd(args)
	case "serve":
		serveCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("personactl - persona keystore management tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  personactl create --type=ec|rsa [--name=NAME]         create a new persona")
	fmt.Println("  personactl list                                      list loaded personas")
	fmt.Println("  personactl show --id=HEX                             show persona detail")
	fmt.Println("  personactl generate-kex --id=HEX                     generate an ephemeral kex key")
	fmt.Println("  personactl import-kex --id=HEX --pem=FILE             import a peer kex public key")
	fmt.Println("  personactl delete-kex --id=HEX --kex=HEX [--private]  delete/shred a kex key")
	fmt.Println("  personactl history --id=HEX                          show the audit trail for a persona")
	fmt.Println("  personactl health                                    run ambient health checks and exit")
	fmt.Println("  personactl serve [--addr=HOST:PORT]                  serve /metrics and /healthz")
	fmt.Println()
	fmt.Println("Run 'personactl <command> -h' for command-specific help")
}

// openKeystore loads config, opens the audit ledger, builds a
// KeyProvider and a loaded Keystore rooted at cfg.BaseDir (or baseDir
// if overridden by flag). The returned Keystore carries a live
// Metrics instance; metrics survive the life of the process rather
// than openKeystore's caller, so callers that need the module to
// build a /metrics endpoint should read it off the Keystore.
func openKeystore() (*keystore.Keystore, *config.Config, func(), error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if baseDir != "" {
		cfg.BaseDir = baseDir
	}
	if err := os.MkdirAll(cfg.BaseDir, 0700); err != nil {
		return nil, nil, nil, fmt.Errorf("create base dir: %w", err)
	}

	if cfg.HSM.Enabled {
		if err := validation.ValidateStringNonEmpty(cfg.HSM.LibPath); err != nil {
			return nil, nil, nil, fmt.Errorf("hsm libPath: %w", err)
		}
	}

	digest := keyprovider.SHA256
	if cfg.Digest == "sha3-256" {
		digest = keyprovider.SHA3_256
	}

	provider := keyprovider.NewOpenSSLLikeProvider(cfg.RSABits, cfg.ECCurve)

	ledger, err := auditlog.Open(cfg.AuditDBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	ks := keystore.New(cfg.BaseDir, provider, digest)
	ks.Ledger = ledger
	ks.Metrics = observability.NewMetrics()
	if err := ks.Load(); err != nil {
		ledger.Close()
		return nil, nil, nil, err
	}

	return ks, cfg, func() { ledger.Close() }, nil
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	keyType := fs.String("type", "ec", "key type: ec or rsa")
	name := fs.String("name", "", "human-readable label")
	withDH := fs.Bool("with-dh-params", false, "provision fresh DH domain parameters (RSA personas only)")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	logger := observability.NewLogger("personactl", "dev", os.Stderr)

	var pub, priv string
	switch *keyType {
	case "ec":
		pub, priv, err = ks.GenerateEC()
	case "rsa":
		pub, priv, err = ks.GenerateRSA(rsaProgress)
	default:
		fatal(fmt.Errorf("unknown key type %q", *keyType))
	}
	if err != nil {
		fatal(err)
	}

	dhPEM := ""
	if *withDH {
		dhPEM = "new"
	}

	p, err := ks.AddPersona(*name, pub, priv, dhPEM)
	if err != nil {
		fatal(err)
	}
	logger.PersonaCreated(p.Hex, p.Name, p.Type.String())

	fmt.Printf("created persona %s (%s)\n", p.Hex, p.Type)
}

func rsaProgress(marker byte) {
	fmt.Fprintf(os.Stderr, "%c", marker)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	for hex, p := range ks.Personas {
		fmt.Printf("%s  %-4s  %s\n", hex, p.Type, p.Name)
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	id := fs.String("id", "", "persona id (full or 16-char short form)")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	p, err := ks.FindPersona(*id)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("id:   %s\n", p.Hex)
	fmt.Printf("name: %s\n", p.Name)
	fmt.Printf("type: %s\n", p.Type)
	fmt.Printf("kex keys: %d\n", len(p.Kex))
	if p.DHParams != nil {
		fmt.Println("dh params: provisioned")
	}
}

func generateKexCmd(args []string) {
	fs := flag.NewFlagSet("generate-kex", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	id := fs.String("id", "", "persona id")
	peer := fs.String("peer", "", "peer persona id this kex key is bound to")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	p, err := ks.FindPersona(*id)
	if err != nil {
		fatal(err)
	}

	box, err := ks.GenerateKexKey(p, *peer)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("generated kex key %s (%s)\n", box.Hex, box.Kind)
	fmt.Print(box.PubPEM)
}

func importKexCmd(args []string) {
	fs := flag.NewFlagSet("import-kex", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	id := fs.String("id", "", "persona id")
	pemPath := fs.String("pem", "", "path to the peer's kex public key PEM")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	p, err := ks.FindPersona(*id)
	if err != nil {
		fatal(err)
	}

	data, err := os.ReadFile(*pemPath)
	if err != nil {
		fatal(err)
	}

	box, err := ks.AddKexPubkey(p, string(data))
	if err != nil {
		fatal(err)
	}
	fmt.Printf("imported kex key %s (%s)\n", box.Hex, box.Kind)
}

func deleteKexCmd(args []string) {
	fs := flag.NewFlagSet("delete-kex", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	id := fs.String("id", "", "persona id")
	kexID := fs.String("kex", "", "kex key id")
	privateOnly := fs.Bool("private", false, "shred only the private half, retaining the public half")
	fs.Parse(args)

	ks, _, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	p, err := ks.FindPersona(*id)
	if err != nil {
		fatal(err)
	}

	if *privateOnly {
		if err := ks.DeleteKexPrivate(p, *kexID); err != nil {
			fatal(err)
		}
		fmt.Printf("shredded private half of kex key %s\n", *kexID)
		return
	}
	if err := ks.DeleteKex(p, *kexID); err != nil {
		fatal(err)
	}
	fmt.Printf("deleted kex key %s\n", *kexID)
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	id := fs.String("id", "", "persona id")
	fs.Parse(args)

	_, cfg, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	ledger, err := auditlog.Open(cfg.AuditDBPath)
	if err != nil {
		fatal(err)
	}
	defer ledger.Close()

	rows, err := ledger.ForPersona(*id)
	if err != nil {
		fatal(err)
	}
	for _, r := range rows {
		fmt.Printf("%s  %-22s  kex=%s  %s\n", r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Event, r.KexHex, r.Detail)
	}
}

func healthCmd(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	fs.Parse(args)

	ks, cfg, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	checker := observability.NewHealthChecker("personactl")
	checker.RegisterCheck("base_dir", observability.KeystoreBaseDirCheck(cfg.BaseDir))
	checker.RegisterCheck("personas_loaded", observability.PersonasLoadedCheck(func() int { return len(ks.Personas) }))
	checker.RegisterCheck("audit_db", observability.DatabaseCheck(ks.Ledger.DB()))

	resp := checker.Check(context.Background())
	for name, h := range resp.Checks {
		fmt.Printf("%-16s %-10s %s\n", name, h.Status, h.Message)
	}
	fmt.Printf("overall: %s\n", resp.Status)
	if resp.Status == observability.HealthStatusUnhealthy {
		os.Exit(1)
	}
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.StringVar(&baseDir, "base-dir", "", "keystore base directory override")
	addr := fs.String("addr", "", "listen address override for cfg.MetricsAddr")
	fs.Parse(args)

	ks, cfg, closeFn, err := openKeystore()
	if err != nil {
		fatal(err)
	}
	defer closeFn()

	listenAddr := cfg.MetricsAddr
	if *addr != "" {
		listenAddr = *addr
	}
	if err := validation.ValidateAddr(listenAddr); err != nil {
		fatal(err)
	}

	checker := observability.NewHealthChecker("personactl")
	checker.RegisterCheck("base_dir", observability.KeystoreBaseDirCheck(cfg.BaseDir))
	checker.RegisterCheck("personas_loaded", observability.PersonasLoadedCheck(func() int { return len(ks.Personas) }))
	checker.RegisterCheck("audit_db", observability.DatabaseCheck(ks.Ledger.DB()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", ks.Metrics.Handler())
	mux.Handle("/healthz", checker.Handler())

	fmt.Printf("serving /metrics and /healthz on %s\n", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	if k := kerr.Of(err); k != kerr.Unknown {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", k, err)
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
