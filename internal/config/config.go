// Package config loads server and client settings: defaults < YAML file < TODO_* env < flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TODO_JWT_KEY or TODO_LIMITER_WINDOW.
const EnvPrefix = "TODO"

// Storage backends for the server.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// option ties a viper key to its flag, default and help text.
type option struct {
	key   string
	flag  string
	def   any
	usage string
}

func register(fs *pflag.FlagSet, opts []option) {
	for _, o := range opts {
		switch d := o.def.(type) {
		case string:
			fs.String(o.flag, d, o.usage)
		case bool:
			fs.Bool(o.flag, d, o.usage)
		case int:
			fs.Int(o.flag, d, o.usage)
		case time.Duration:
			fs.Duration(o.flag, d, o.usage)
		default:
			panic(fmt.Sprintf("config: unsupported default %T for %s", o.def, o.key))
		}
	}
}

// load merges all sources into out. fs may be nil; file may be empty.
func load(fs *pflag.FlagSet, file string, opts []option, out any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range opts {
		v.SetDefault(o.key, o.def)
		if fs == nil {
			continue
		}
		if f := fs.Lookup(o.flag); f != nil {
			if err := v.BindPFlag(o.key, f); err != nil {
				return err
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
