package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ReleaseVersion = "0.4.0"

const envPrefix = "BUZZER"

type Config struct {
	Bind           string
	Port           int
	Board          string
	DatabaseURL    string
	RoomTTL        time.Duration
	PlayerTimeout  time.Duration
	RateLimit      float64
	RateLimitBurst int
	MaxNameLength  int
	SendBuffer     int
	Origins        []string
	PublicURL      string
	TrustProxy     bool
	Verbose        bool
	ConfigFile     string
}

func Default() Config {
	return Config{
		Bind:           "0.0.0.0",
		Port:           8080,
		RoomTTL:        time.Hour,
		RateLimit:      1,
		RateLimitBurst: 5,
		MaxNameLength:  32,
		SendBuffer:     64,
	}
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.RoomTTL < 0 {
		return fmt.Errorf("room-ttl must not be negative: %s", c.RoomTTL)
	}
	if c.PlayerTimeout < 0 {
		return fmt.Errorf("player-timeout must not be negative: %s", c.PlayerTimeout)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate-limit must be positive: %v", c.RateLimit)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("rate-limit-burst must be at least 1: %d", c.RateLimitBurst)
	}
	if c.MaxNameLength < 1 {
		return fmt.Errorf("max-name-length must be at least 1: %d", c.MaxNameLength)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("send-buffer must be at least 1: %d", c.SendBuffer)
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// NewCommand builds the root command. Values resolve as flag, then BUZZER_* environment
// variable, then config file, then default.
func NewCommand(run func(ctx context.Context, cfg Config) error) *cobra.Command {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "buzzboard",
		Short:         "Real-time buzzer quiz server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       ReleaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ConfigFile != "" {
				v.SetConfigFile(cfg.ConfigFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			if err := applyViper(v, cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", cfg.Bind, "address to bind to (env: BUZZER_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on (env: BUZZER_PORT)")
	fs.StringVar(&cfg.Board, "board", cfg.Board, "JSON or YAML board used when a room is created without categories (env: BUZZER_BOARD)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL DSN for game history, empty disables (env: BUZZER_DATABASE_URL)")
	fs.DurationVar(&cfg.RoomTTL, "room-ttl", cfg.RoomTTL, "time before idle rooms are removed, 0 disables (env: BUZZER_ROOM_TTL)")
	fs.DurationVar(&cfg.PlayerTimeout, "player-timeout", cfg.PlayerTimeout, "time before disconnected players are removed, 0 disables (env: BUZZER_PLAYER_TIMEOUT)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "room creations per second per client (env: BUZZER_RATE_LIMIT)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst, "room creation burst per client (env: BUZZER_RATE_LIMIT_BURST)")
	fs.IntVar(&cfg.MaxNameLength, "max-name-length", cfg.MaxNameLength, "maximum player name length in characters (env: BUZZER_MAX_NAME_LENGTH)")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "outbound frames queued per connection before dropping (env: BUZZER_SEND_BUFFER)")
	fs.StringSliceVar(&cfg.Origins, "origins", cfg.Origins, "additional websocket origin patterns to accept (env: BUZZER_ORIGINS)")
	fs.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "base URL encoded in join QR codes (env: BUZZER_PUBLIC_URL)")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "take client IPs from X-Forwarded-For, only behind a reverse proxy (env: BUZZER_TRUST_PROXY)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "display additional output (env: BUZZER_VERBOSE)")
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "optional YAML config file (env: BUZZER_CONFIG)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("buzzboard v{{.Version}}\n")

	// The config file path itself may come from the environment.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags().Lookup("config")
		if !f.Changed && v.IsSet("config") {
			return cmd.Flags().Set("config", v.GetString("config"))
		}
		return nil
	}

	return cmd
}

// applyViper copies env and config file values into every flag not set on the command line.
func applyViper(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if f.Value.Type() == "stringSlice" {
			val = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if err := fs.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
