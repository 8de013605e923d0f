package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithPersona adds persona_id context to the logger.
func (l *Logger) WithPersona(hex string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("persona_id", hex).Logger(),
	}
}

// WithOp adds a correlation id for one keystore/persona operation.
func (l *Logger) WithOp(opID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("op_id", opID).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// PersonaCreated logs successful persona creation.
func (l *Logger) PersonaCreated(hex, name, keyType string) {
	l.logger.Info().
		Str("persona_id", hex).
		Str("name", name).
		Str("key_type", keyType).
		Msg("persona created")
}

// PersonaLoaded logs a persona being loaded from disk.
func (l *Logger) PersonaLoaded(hex string, kexCount int) {
	l.logger.Debug().
		Str("persona_id", hex).
		Int("kex_count", kexCount).
		Msg("persona loaded")
}

// PersonaLoadSkipped logs a persona directory entry that failed to load
// during bulk enumeration and was tolerantly skipped.
func (l *Logger) PersonaLoadSkipped(hex string, err error) {
	l.logger.Warn().
		Str("persona_id", hex).
		Err(err).
		Msg("persona load skipped")
}

// KexKeyGenerated logs generation of a fresh ephemeral kex key.
func (l *Logger) KexKeyGenerated(personaHex, kexHex, kind string) {
	l.logger.Debug().
		Str("persona_id", personaHex).
		Str("kex_id", kexHex).
		Str("kind", kind).
		Msg("kex key generated")
}

// KexKeyImported logs import of a peer-supplied kex public key.
func (l *Logger) KexKeyImported(personaHex, kexHex, peerHex string) {
	l.logger.Debug().
		Str("persona_id", personaHex).
		Str("kex_id", kexHex).
		Str("peer_id", peerHex).
		Msg("kex public key imported")
}

// KexKeyShredded logs secure deletion of a kex private key.
func (l *Logger) KexKeyShredded(personaHex, kexHex string) {
	l.logger.Info().
		Str("persona_id", personaHex).
		Str("kex_id", kexHex).
		Msg("kex private key shredded")
}

// CryptoOperationFailed logs a failed keyprovider operation.
func (l *Logger) CryptoOperationFailed(operation string, err error) {
	l.logger.Error().
		Str("operation", operation).
		Err(err).
		Msg("crypto operation failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
