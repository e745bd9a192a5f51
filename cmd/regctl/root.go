package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/regctl/internal/config"
	"github.com/danmuck/regctl/internal/logging"
	"github.com/danmuck/regctl/internal/observability"
	"github.com/danmuck/regctl/internal/protocol/session"
)

var errRegistrationDisabled = errors.New("registration is disabled by configuration")

type rootOptions struct {
	configPath  string
	metricsAddr string
	address     string
	tlsMode     string
	noPrompt    bool
}

// app carries the state shared by every subcommand.
type app struct {
	opts   rootOptions
	cfg    config.Config
	prompt *prompter
	out    io.Writer
	log    zerolog.Logger
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{out: out, prompt: newPrompter(bufio.NewReader(in), out)}

	root := &cobra.Command{
		Use:           "regctl",
		Short:         "Create XMPP accounts with in-band registration",
		Long:          "regctl asks an XMPP server for its registration form and submits it (XEP-0077).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.loadConfig()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", "", "path to a regctl TOML config (defaults apply when empty)")
	flags.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port while running")
	flags.StringVar(&a.opts.address, "address", "", "dial host:port instead of resolving the domain")
	flags.StringVar(&a.opts.tlsMode, "tls-mode", "", "starttls, required, direct or disabled")
	flags.BoolVar(&a.opts.noPrompt, "no-prompt", false, "never read from stdin")

	root.AddCommand(newFieldsCmd(a), newRegisterCmd(a), newConfigCmd(a))
	return root
}

// loadConfig resolves the effective configuration: defaults, then the config
// file, then flags.
func (a *app) loadConfig() error {
	logging.ConfigureRuntime()
	a.log = observability.NewLogger("regctl")

	cfg := config.Default()
	if a.opts.configPath != "" {
		loaded, err := config.Load(a.opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.opts.metricsAddr != "" {
		cfg.MetricsAddr = strings.TrimSpace(a.opts.metricsAddr)
	}
	if a.opts.address != "" {
		cfg.Transport.Address = strings.TrimSpace(a.opts.address)
	}
	if a.opts.tlsMode != "" {
		cfg.Transport.TLS.Mode = session.TLSMode(a.opts.tlsMode)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log.Debug().
		Str("config", a.opts.configPath).
		Str("registration_domain", cfg.RegistrationDomain).
		Bool("allow_registration", cfg.AllowRegistration).
		Msg("config loaded")
	return nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
