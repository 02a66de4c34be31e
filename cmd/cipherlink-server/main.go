// Command cipherlink-server terminates encrypted tunnels and relays the
// SOCKS5 CONNECT requests arriving through them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink"
	"github.com/opd-ai/cipherlink/config"
)

type cliFlags struct {
	configPath string
	listen     string
	keyFile    string
	logLevel   string
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.configPath, "config", "", "Path to a TOML configuration file")
	flag.StringVar(&f.listen, "listen", "", "Listen address as host:port (overrides configuration)")
	flag.StringVar(&f.keyFile, "key", "", "Path to the shared key file (overrides configuration)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warning or error")
	flag.Parse()
	return f
}

// applyFlags lays explicit command-line values over the loaded
// configuration and re-validates the result.
func applyFlags(cfg *config.Config, f *cliFlags) error {
	if f.listen != "" {
		host, portStr, err := net.SplitHostPort(f.listen)
		if err != nil {
			return fmt.Errorf("listen address %q: %v", f.listen, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("listen port %q: %v", portStr, err)
		}
		if host != "" {
			cfg.Server.Host = host
		}
		cfg.Server.Port = uint16(port)
	}
	if f.keyFile != "" {
		cfg.KeyFile = f.keyFile
		cfg.Key = ""
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg.Validate()
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-server: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, flags); err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-server: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-server: %v\n", err)
		os.Exit(1)
	}

	srv, err := cipherlink.NewServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Server terminated")
	}
}
