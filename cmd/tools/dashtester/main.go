// Command dashtester drives the analytics client and the console
// controllers against a live backend.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/rabbitt-console/internal/client/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/logging"
)

var (
	apiBase  string
	timeout  time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dashtester",
	Short: "Exercise the analytics backend the way the console does",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "", "Analytics API base URL (default: $ANALYTICS_API_BASE or http://localhost:8000)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return logging.New(logging.Config{Level: logLevel, Format: "console", Out: os.Stderr})
}

func newClient(logger zerolog.Logger) *analytics.Client {
	base := apiBase
	if base == "" {
		base = os.Getenv("ANALYTICS_API_BASE")
	}
	return analytics.New(analytics.Options{BaseURL: base, Timeout: timeout, Logger: logger})
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
