// Package cli implements the chat command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"skill-barter/messaging/internal/history"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/metrics"
	"skill-barter/messaging/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var errNoToken = errors.New("no credential: pass --token or set CHAT_TOKEN (see `chat login`)")

// env is what every subcommand works with, built once per invocation.
type env struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	shutdown telemetry.Shutdown
}

var current env

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Skill-barter messaging client",
	Long: `chat talks to the skill-barter REST service and realtime channel:
list the inbox, open a trade negotiation or a direct conversation and
send messages from the terminal.`,
	Version:            fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().String("api-url", "", "REST service base URL (default $API_URL)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (default $CHAT_TOKEN)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve prometheus metrics on this address while running")
	rootCmd.PersistentFlags().Bool("trace", false, "write OpenTelemetry spans to stderr")
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg := config.New()

	flags := cmd.Flags()
	if u, _ := flags.GetString("api-url"); u != "" {
		cfg.API.BaseURL = strings.TrimRight(u, "/")
		if os.Getenv("REALTIME_URL") == "" {
			cfg.Realtime.URL = "ws" + strings.TrimPrefix(cfg.API.BaseURL, "http") + "/ws"
		}
	}
	if tok, _ := flags.GetString("token"); tok != "" {
		cfg.Auth.Token = tok
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}

	// Logs go to stderr so they never interleave with command output
	current = env{
		cfg: cfg,
		log: logger.New(logger.Config{
			Level:  cfg.Logging.Level,
			JSON:   cfg.Logging.Format == "json",
			Output: os.Stderr,
		}),
		registry: prometheus.NewRegistry(),
	}
	current.registry.MustRegister(collectors.NewGoCollector())
	current.metrics = metrics.New(current.registry)

	if trace, _ := flags.GetBool("trace"); trace {
		shutdown, err := telemetry.SetupTracing("chat-cli", os.Stderr)
		if err != nil {
			return err
		}
		current.shutdown = shutdown
	}

	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		serveMetrics(addr)
	}
	return nil
}

func teardown(*cobra.Command, []string) error {
	if current.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return current.shutdown(ctx)
}

func serveMetrics(addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			current.log.LogError(err, "metrics listener failed", "addr", addr)
		}
	}()
}

func (e env) credential() (auth.Credential, error) {
	cred := auth.NewCredential(e.cfg.Auth.Token)
	if cred.Empty() {
		return cred, errNoToken
	}
	return cred, nil
}

func (e env) historyClient(cred auth.Credential) *history.HTTPClient {
	return history.NewHTTPClient(e.cfg, cred,
		history.WithLogger(e.log),
		history.WithMetrics(e.metrics),
	)
}

// withTimeout bounds one-shot commands by the REST timeout.
func (e env) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.API.Timeout+time.Second)
}
