package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigotd/spigot/internal/auth"
	"github.com/spigotd/spigot/internal/relay"
	"github.com/spigotd/spigot/internal/server"
	"github.com/spigotd/spigot/internal/upstream"
	"github.com/spigotd/spigot/internal/usage"
)

const banner = `
 ___ ___ ___ ___ ___ _____
/ __| _ \_ _/ __|   \_   _|
\__ \  _/| | (_ | () || |
|___/_| |___\___|___/ |_|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		modelsFile string
		dev        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Spigot gateway server",
		Long:  "Start the HTTP server that fronts the configured inference backends with authentication and usage accounting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, modelsFile, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().StringVar(&modelsFile, "models", "", "models file (default: the config file)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, modelsFile string, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Open the state store (SQLite)
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "path", resolveDataDir())

	// 2. Load the model registry
	if modelsFile == "" {
		modelsFile = viper.ConfigFileUsed()
	}
	if modelsFile == "" {
		modelsFile = "spigot.yaml"
	}
	registry, err := upstream.LoadRegistry(modelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	models := registry.List()
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	logger.Info("model registry loaded", "models", ids)

	// 3. Token authority and gate
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		// Ephemeral secret: access tokens will not survive a restart.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		jwtSecret = hex.EncodeToString(b)
		logger.Warn("auth.jwt_secret not set; generated an ephemeral secret, sessions will not survive restart")
	}

	accessTTL := durationSetting("auth.access_ttl", 30*time.Minute)
	refreshTTL := durationSetting("auth.refresh_ttl", 30*24*time.Hour)
	refreshTimeout := durationSetting("auth.refresh_timeout", 10*time.Second)
	refreshGrace := durationSetting("auth.refresh_grace", 30*time.Second)
	maxStream := durationSetting("relay.max_stream_duration", 5*time.Minute)

	authority := auth.NewAuthority(st, jwtSecret, accessTTL, refreshTTL, logger)
	refresher := auth.NewRefresher(authority, refreshTimeout, refreshGrace)
	gate := auth.NewGate(st, authority)

	// 4. Relay and ledger
	ledger := usage.NewLedger(st, logger)
	rl := relay.New(upstream.NewClient(), registry, ledger, logger, maxStream)

	// 5. First-run check
	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - the first registered user becomes admin, or run: spigot admin create")
	}

	// 6. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rpm := viper.GetInt("server.auth_rate_limit"); rpm > 0 {
		srvCfg.AuthRateLimit = rpm
	}

	srv := server.New(srvCfg, server.Deps{
		Store:     st,
		Authority: authority,
		Refresher: refresher,
		Gate:      gate,
		Relay:     rl,
		Ledger:    ledger,
	}, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Inference:  http://%s:%d/v1/chat/completions\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Models:     %d configured\n", len(models))
	fmt.Println()

	return srv.ListenAndServe()
}

// durationSetting reads a duration from viper, falling back to def when the
// key is unset or unparsable.
func durationSetting(key string, def time.Duration) time.Duration {
	if v := viper.GetDuration(key); v > 0 {
		return v
	}
	return def
}
