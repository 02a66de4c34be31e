// Command cipherlink-client exposes a local SOCKS5 listener and carries
// every accepted connection to a cipherlink server over an encrypted
// tunnel.
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
	server     string
	listen     string
	keyFile    string
	proxyURL   string
	logLevel   string
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.configPath, "config", "", "Path to a TOML configuration file")
	flag.StringVar(&f.server, "server", "", "Server address as host:port (overrides configuration)")
	flag.StringVar(&f.listen, "listen", "", "Local SOCKS5 listen address (overrides configuration)")
	flag.StringVar(&f.keyFile, "key", "", "Path to the shared key file (overrides configuration)")
	flag.StringVar(&f.proxyURL, "proxy", "", "Outbound proxy URL: socks5://host:port or http://host:port")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warning or error")
	flag.Parse()
	return f
}

// applyFlags lays explicit command-line values over the loaded
// configuration and re-validates the result.
func applyFlags(cfg *config.Config, f *cliFlags) error {
	if f.server != "" {
		host, portStr, err := net.SplitHostPort(f.server)
		if err != nil {
			return fmt.Errorf("server address %q: %v", f.server, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("server port %q: %v", portStr, err)
		}
		cfg.Client.Host = host
		cfg.Server.Port = uint16(port)
	}
	if f.listen != "" {
		cfg.Client.Listen = f.listen
	}
	if f.keyFile != "" {
		cfg.KeyFile = f.keyFile
		cfg.Key = ""
	}
	if f.proxyURL != "" {
		cfg.Proxy.URL = f.proxyURL
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
		fmt.Fprintf(os.Stderr, "cipherlink-client: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, flags); err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-client: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-client: %v\n", err)
		os.Exit(1)
	}

	cli, err := cipherlink.NewClient(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Client terminated")
	}
}
