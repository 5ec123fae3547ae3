package tracejit

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls optional Compiler behavior. The zero value is the
// default: logging disabled.
type Config struct {
	// TraceLog enables per-instruction debug logging of the lowering
	// pipeline (the guest PC and opcode of each instruction lowered, and
	// why a trace ended). Off by default: a trace compiler runs on a hot path and
	// the log call sites should be a no-op branch unless explicitly
	// requested.
	TraceLog bool
}

// Option configures a Config. Following the functional-options idiom,
// NewCompiler takes a variadic list of these rather than a single struct
// literal.
type Option func(*Config)

// WithTraceLog enables or disables per-instruction trace logging.
func WithTraceLog(enabled bool) Option {
	return func(c *Config) { c.TraceLog = enabled }
}

func newConfig(opts []Option) Config {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// logger builds the *logrus.Logger the compiler's internals log through.
// Raising the level to Panic when tracing is disabled keeps every call site
// on the hot path cheap: logrus short-circuits before formatting when the
// level check fails.
func (c Config) logger() *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	if !c.TraceLog {
		log.SetLevel(logrus.PanicLevel)
		return log
	}
	log.SetLevel(logrus.DebugLevel)
	return log
}
