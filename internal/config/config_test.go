package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/and161185/todo-keeper/internal/errs"
)

func serverFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	RegisterServerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadServer_Defaults(t *testing.T) {
	s, err := LoadServer(serverFlags(t, "--jwt-key", "k"), "")
	require.NoError(t, err)
	require.Equal(t, ":8443", s.Addr)
	require.Equal(t, StoragePostgres, s.Storage)
	require.Equal(t, 24*time.Hour, s.AccessTTL)
	require.True(t, s.PGNotify)
	require.Equal(t, Limiter{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}, s.Limiter)
}

func TestLoadServer_Precedence(t *testing.T) {
	file := writeYAML(t, `
addr: ":9000"
admin_addr: ":9001"
jwt_key: from-file
access_ttl: 1h
limiter:
  max_fails: 3
  window: 1m
`)
	t.Setenv("TODO_ADMIN_ADDR", ":7001")
	t.Setenv("TODO_LIMITER_MAX_FAILS", "7")

	s, err := LoadServer(serverFlags(t, "--addr", ":6000"), file)
	require.NoError(t, err)
	require.Equal(t, ":6000", s.Addr, "flag beats file")
	require.Equal(t, ":7001", s.AdminAddr, "env beats file")
	require.Equal(t, "from-file", s.JWTKey)
	require.Equal(t, time.Hour, s.AccessTTL)
	require.Equal(t, 7, s.Limiter.MaxFails)
	require.Equal(t, time.Minute, s.Limiter.Window)
	require.Equal(t, 15*time.Minute, s.Limiter.BlockFor, "unset nested keys keep defaults")
}

func TestLoadServer_MissingFile(t *testing.T) {
	_, err := LoadServer(serverFlags(t), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestServer_Validate(t *testing.T) {
	ok := Server{JWTKey: "k", Storage: StoragePostgres, DSN: "x", AccessTTL: time.Hour, TLSCert: "c", TLSKey: "k"}
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Server){
		"jwt_key":    func(s *Server) { s.JWTKey = "" },
		"storage":    func(s *Server) { s.Storage = "redis" },
		"dsn":        func(s *Server) { s.DSN = "" },
		"access_ttl": func(s *Server) { s.AccessTTL = 0 },
		"tls_cert":   func(s *Server) { s.TLSKey = "" },
	}
	for field, mut := range cases {
		t.Run(field, func(t *testing.T) {
			s := ok
			mut(&s)
			var ve *errs.ValidationError
			require.ErrorAs(t, s.Validate(), &ve)
			require.Equal(t, field, ve.Field)
		})
	}

	mem := Server{JWTKey: "k", Storage: StorageMemory, AccessTTL: time.Hour, Dev: true}
	require.NoError(t, mem.Validate(), "memory storage in dev needs neither dsn nor tls")
}

func TestLoadClient(t *testing.T) {
	fs := pflag.NewFlagSet("td", pflag.ContinueOnError)
	RegisterClientFlags(fs)
	require.NoError(t, fs.Parse([]string{"--plaintext"}))
	t.Setenv("TODO_TIMEOUT", "3s")

	c, err := LoadClient(fs, "")
	require.NoError(t, err)
	require.Equal(t, "localhost:8443", c.Addr)
	require.True(t, c.Plaintext)
	require.Equal(t, 3*time.Second, c.Timeout)
	require.Empty(t, c.StateDir)

	require.NoError(t, fs.Parse([]string{"--timeout", "0s"}))
	_, err = LoadClient(fs, "")
	require.Error(t, err)
}
