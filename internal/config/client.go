package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/and161185/todo-keeper/internal/errs"
)

// Client is the td CLI configuration.
type Client struct {
	Addr      string        `mapstructure:"addr"`
	CACert    string        `mapstructure:"ca_cert"`
	Insecure  bool          `mapstructure:"insecure"`
	Plaintext bool          `mapstructure:"plaintext"`
	Timeout   time.Duration `mapstructure:"timeout"`
	StateDir  string        `mapstructure:"state_dir"`
	Debug     bool          `mapstructure:"debug"`
}

var clientOptions = []option{
	{"addr", "addr", "localhost:8443", "server address"},
	{"ca_cert", "ca-cert", "", "PEM file with the server CA (system pool when empty)"},
	{"insecure", "insecure", false, "skip TLS verification (dev only)"},
	{"plaintext", "plaintext", false, "connect without TLS (dev servers)"},
	{"timeout", "timeout", 15 * time.Second, "per-request timeout"},
	{"state_dir", "state-dir", "", "session directory (default $XDG_CONFIG_HOME/todokeeper)"},
	{"debug", "debug", false, "development logging to stderr"},
}

// RegisterClientFlags adds every client option to fs.
func RegisterClientFlags(fs *pflag.FlagSet) { register(fs, clientOptions) }

// LoadClient reads the client configuration.
func LoadClient(fs *pflag.FlagSet, file string) (Client, error) {
	var c Client
	if err := load(fs, file, clientOptions, &c); err != nil {
		return Client{}, err
	}
	if c.Addr == "" {
		return Client{}, &errs.ValidationError{Field: "addr", Msg: "required"}
	}
	if c.Timeout <= 0 {
		return Client{}, &errs.ValidationError{Field: "timeout", Msg: "must be positive"}
	}
	return c, nil
}
