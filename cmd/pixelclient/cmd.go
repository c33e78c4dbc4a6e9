package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rickgao/pixel-canvas/internal/config"
	"github.com/rickgao/pixel-canvas/internal/version"
)

// options holds command-line settings. Flags override the config file.
type options struct {
	configPath   string
	host         string
	secure       bool
	endpoint     string
	gridSize     int
	defaultColor string
	journal      bool
	name         string
	noColor      bool
	verbose      bool
}

func newCmd(opts *options, in io.Reader, out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PIXELCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "pixelclient",
		Short:   "Terminal client for the shared pixel canvas.",
		Args:    cobra.ExactArgs(0),
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts, in, out, errOut)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (env: PIXELCLIENT_CONFIG)")
	fs.StringVar(&opts.host, "host", config.DefaultHost, "canvas server host:port (env: PIXELCLIENT_HOST)")
	fs.BoolVar(&opts.secure, "secure", false, "use https/wss (env: PIXELCLIENT_SECURE)")
	fs.StringVarP(&opts.endpoint, "endpoint", "e", config.DefaultEndpoint, "stream endpoint, wsGrid or wsNotificacao (env: PIXELCLIENT_ENDPOINT)")
	fs.IntVar(&opts.gridSize, "grid-size", config.DefaultGridSize, "number of cells on the canvas (env: PIXELCLIENT_GRID_SIZE)")
	fs.StringVar(&opts.defaultColor, "default-color", config.DefaultColor, "color of cells the server has not painted (env: PIXELCLIENT_DEFAULT_COLOR)")
	fs.BoolVar(&opts.journal, "journal", false, "record received pixel changes to PostgreSQL (env: PIXELCLIENT_JOURNAL)")
	fs.StringVarP(&opts.name, "name", "n", "", "register with this name on startup (env: PIXELCLIENT_NAME)")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable ANSI colors (env: PIXELCLIENT_NO_COLOR)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output (env: PIXELCLIENT_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("pixelclient {{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// load reads the config file, if any, and layers explicitly set flags (or
// their environment variables) on top before validating.
func (o *options) load(fs *pflag.FlagSet) (*config.ClientConfig, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.LoadWithDefaults(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Without a file every flag applies, defaults included.
	set := func(name string) bool {
		return o.configPath == "" || fs.Changed(name)
	}

	if set("host") {
		cfg.Server.Host = o.host
	}
	if set("secure") {
		cfg.Server.Secure = o.secure
	}
	if set("endpoint") {
		cfg.Server.Endpoint = o.endpoint
		if fs.Changed("endpoint") {
			cfg.Server.TokenPath = ""
		}
	}
	if set("grid-size") {
		cfg.Grid.Size = o.gridSize
	}
	if set("default-color") {
		cfg.Grid.DefaultColor = o.defaultColor
	}
	if fs.Changed("journal") {
		cfg.Journal.Enabled = o.journal
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
