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
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, uint16(8888), cfg.Server.Port)
			},
		},
		{
			name:  "listen with port only keeps host",
			flags: cliFlags{listen: ":9000"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, uint16(9000), cfg.Server.Port)
			},
		},
		{
			name:  "listen with host and port sets both",
			flags: cliFlags{listen: "10.0.0.1:9000"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "10.0.0.1", cfg.Server.Host)
				assert.Equal(t, uint16(9000), cfg.Server.Port)
			},
		},
		{
			name:    "listen without port",
			flags:   cliFlags{listen: "10.0.0.1"},
			wantErr: true,
		},
		{
			name:    "listen with non-numeric port",
			flags:   cliFlags{listen: "10.0.0.1:ninety"},
			wantErr: true,
		},
		{
			name: "key flag clears hex override",
			prep: func(cfg *config.Config) {
				cfg.Key = strings.Repeat("ab", 32)
			},
			flags: cliFlags{keyFile: "/run/secrets/key"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/run/secrets/key", cfg.KeyFile)
				assert.Empty(t, cfg.Key)
			},
		},
		{
			name:  "log level override",
			flags: cliFlags{logLevel: "debug"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "debug", cfg.Log.Level)
			},
		},
		{
			name:    "bad log level fails validation",
			flags:   cliFlags{logLevel: "loud"},
			wantErr: true,
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
