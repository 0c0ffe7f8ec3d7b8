package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cozy/realtime.go/pkg/logger"
)

type rootOptions struct {
	configPath string
	url        string
	token      string
	transport  string
	format     string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "realtime-tail [event/doctype[/id]...]",
		Short: "Print realtime change notifications of a Cozy instance",
		Long: "realtime-tail subscribes to change notifications of a Cozy instance and " +
			"prints every received document until interrupted.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(args)
			if err != nil {
				return err
			}
			keys, err := cfg.Validate()
			if err != nil {
				return err
			}

			level := zerolog.InfoLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			zl := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(level).With().Timestamp().Logger()

			return tail(cmd.Context(), cfg, keys, cmd.OutOrStdout(), logger.NewZerolog(zl))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.url, "url", "", "instance URL (overrides the config file)")
	flags.StringVar(&opts.token, "token", "", "session token (overrides the config file)")
	flags.StringVar(&opts.transport, "transport", "", "websocket transport (gorilla|gws)")
	flags.StringVar(&opts.format, "format", "", "output format (text|json)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

// config merges the config file, the environment and the flags, flags last.
func (o *rootOptions) config(args []string) (*Config, error) {
	cfg, err := LoadWithDefaults(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.token != "" {
		cfg.Session.Token = o.token
	}
	if o.transport != "" {
		cfg.Transport = o.transport
	}
	if o.format != "" {
		cfg.Format = o.format
	}
	cfg.Subscriptions = append(cfg.Subscriptions, args...)
	return cfg, nil
}
