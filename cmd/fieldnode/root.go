package main

import (
	"fmt"

	"fieldnode-go/services/config"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Device  string
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldnode",
		Short: "Field node host runner and log tool",
		Long: `Run a sensor field node on a Linux host, or inspect and maintain its
flash measurement log.

The node configuration is the embedded defaults for --device with the
optional --config YAML file laid over it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			logger.SetLevel(logger.InfoLevel)
			if opts.Verbose {
				logger.SetLevel(logger.DebugLevel)
			}
			logger.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Device, "device", "d", "sim", "device profile (embedded defaults)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML file overlaid on the device defaults")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewEraseCommand(opts))

	return cmd
}

func (o *RootOptions) load() (config.Config, error) {
	return config.Load(o.Device, o.Config)
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
