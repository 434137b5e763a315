package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dmdmdm-nz/netwatchd/pkg/version"
)

// Config holds the application configuration from CLI flags
type Config struct {
	Port        int
	Host        string
	QuietPeriod time.Duration
	LogLevel    string
}

// ParseFlags parses command line arguments and returns a Config
func ParseFlags() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 60180, "Port to listen on")
	flag.StringVar(&cfg.Host, "host", "127.0.0.1", "Host to bind to")
	flag.DurationVar(&cfg.QuietPeriod, "quiet-period", time.Second, "Debounce window for network change events")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")

	flag.Parse()

	if *showVersion {
		fmt.Printf("netwatchd version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
		os.Exit(0)
	}

	return cfg
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Host: %s, Port: %d, QuietPeriod: %s, LogLevel: %s", c.Host, c.Port, c.QuietPeriod, c.LogLevel)
}
