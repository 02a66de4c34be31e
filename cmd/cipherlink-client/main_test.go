package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/cipherlink/config"
)

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name    string
		prep    func(cfg *config.Config)
		flags   cliFlags
		check   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{
			name:  "no flags keeps configuration",
			flags: cliFlags{},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "127.0.0.1", cfg.Client.Host)
				assert.Equal(t, uint16(8888), cfg.Server.Port)
				assert.Equal(t, "127.0.0.1:1080", cfg.Client.Listen)
			},
		},
		{
			name:  "server flag sets target host and port",
			flags: cliFlags{server: "tunnel.example.com:8443"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "tunnel.example.com", cfg.Client.Host)
				assert.Equal(t, uint16(8443), cfg.Server.Port)
			},
		},
		{
			name:    "server flag without port",
			flags:   cliFlags{server: "tunnel.example.com"},
			wantErr: true,
		},
		{
			name:  "listen flag moves the SOCKS listener",
			flags: cliFlags{listen: "0.0.0.0:9050"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "0.0.0.0:9050", cfg.Client.Listen)
			},
		},
		{
			name:    "unparseable listen flag fails validation",
			flags:   cliFlags{listen: "no-port-here"},
			wantErr: true,
		},
		{
			name:  "proxy flag",
			flags: cliFlags{proxyURL: "socks5://127.0.0.1:9050"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "socks5://127.0.0.1:9050", cfg.Proxy.URL)
			},
		},
		{
			name:    "proxy flag with unsupported scheme",
			flags:   cliFlags{proxyURL: "ftp://127.0.0.1:21"},
			wantErr: true,
		},
		{
			name: "key flag clears hex override",
			prep: func(cfg *config.Config) {
				cfg.Key = strings.Repeat("cd", 32)
			},
			flags: cliFlags{keyFile: "/run/secrets/key"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/run/secrets/key", cfg.KeyFile)
				assert.Empty(t, cfg.Key)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if tt.prep != nil {
				tt.prep(cfg)
			}

			err := applyFlags(cfg, &tt.flags)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
