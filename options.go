package fatslack

import (
	"github.com/sirupsen/logrus"
)

// DefaultMaxDepth limits how deep BuildTree descends into subdirectories.
const DefaultMaxDepth = 32

// Options configures parsing and traversal of a volume.
type Options struct {
	// SkipChecks turns the boot sector checks which are not needed to compute the
	// geometry (jump instruction, boot signature, legacy 16-bit fields) into warnings.
	// That way images with a deliberately damaged boot sector can still be opened.
	// Use with caution!
	SkipChecks bool

	// StrictLFN makes BuildTree fail on long file name records instead of skipping them.
	StrictLFN bool

	// MaxDepth is the maximum directory depth. Values <= 0 use DefaultMaxDepth.
	MaxDepth int

	// Logger receives all non-fatal warnings. Nil uses the logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		MaxDepth: DefaultMaxDepth,
		Logger:   logrus.StandardLogger(),
	}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}
