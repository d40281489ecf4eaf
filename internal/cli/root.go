// Package cli implements the pwchain command line: decoding pw.x XML files,
// running a workchain locally and minting API tokens.
package cli

import (
	"io"
	"log/slog"
	"time"

	ctxlog "github.com/ErlanBelekov/pwchain/internal/log"
	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel string
}

// NewRoot builds the pwchain command tree. Files are read from fs.
func NewRoot(fs afero.Fs) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "pwchain",
		Short:         "Run and inspect Quantum ESPRESSO pw.x workchains",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	cmd.AddCommand(
		newParseCommand(fs, flags),
		newRunCommand(fs, flags),
		newTokenCommand(),
	)
	return cmd
}

// logger writes human-readable logs to stderr so stdout stays machine readable.
func (f *rootFlags) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(ctxlog.NewContextHandler(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}
