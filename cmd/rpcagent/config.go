package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/internal/files"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

const configFileName = "rpcagent.toml"

type serveConfig struct {
	Mode        string
	Addr        string
	LogLevel    zapcore.Level
	Development bool
	Trace       conn.Trace
	IdleTimeout time.Duration

	CACertPEM []byte
	CertPEM   []byte
	KeyPEM    []byte
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		Mode:     "stdio",
		Addr:     "127.0.0.1:8080",
		LogLevel: zapcore.InfoLevel,
		Trace:    conn.TraceOff,
	}
}

func (c serveConfig) tls() bool {
	return len(c.CACertPEM) > 0 || len(c.CertPEM) > 0 || len(c.KeyPEM) > 0
}

func (c serveConfig) validate() error {
	switch c.Mode {
	case "stdio", "tcp", "ws":
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	if c.tls() && (len(c.CACertPEM) == 0 || len(c.CertPEM) == 0 || len(c.KeyPEM) == 0) {
		return fmt.Errorf("TLS needs a CA cert, a cert and a key")
	}
	if c.tls() && c.Mode == "stdio" {
		return fmt.Errorf("TLS is not supported in stdio mode")
	}
	return nil
}

// fileConfig is the layout of rpcagent.toml. Cert paths are relative to the file.
type fileConfig struct {
	Mode        string `toml:"mode"`
	Addr        string `toml:"addr"`
	LogLevel    string `toml:"log_level"`
	Development bool   `toml:"development"`
	Trace       string `toml:"trace"`
	IdleTimeout string `toml:"idle_timeout"`
	CACert      string `toml:"ca_cert"`
	Cert        string `toml:"cert"`
	Key         string `toml:"key"`
}

// findConfig looks for rpcagent.toml in dir and its parents.
func findConfig(dir string) (string, error) {
	return files.FindUp(configFileName, dir)
}

// loadServeConfig overlays the keys set in the file at path onto cfg.
func loadServeConfig(path string, cfg serveConfig) (serveConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serveConfig{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serveConfig{}, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("mode") {
		cfg.Mode = strings.TrimSpace(raw.Mode)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("log_level") {
		level, err := zapcore.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return serveConfig{}, fmt.Errorf("parsing log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("development") {
		cfg.Development = raw.Development
	}
	if meta.IsDefined("trace") {
		cfg.Trace = conn.TraceFromString(raw.Trace)
	}
	if meta.IsDefined("idle_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return serveConfig{}, fmt.Errorf("parsing idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}

	dir := filepath.Dir(path)
	readPEM := func(key, p string, dst *[]byte) error {
		if !meta.IsDefined(key) {
			return nil
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	if err := readPEM("ca_cert", raw.CACert, &cfg.CACertPEM); err != nil {
		return serveConfig{}, err
	}
	if err := readPEM("cert", raw.Cert, &cfg.CertPEM); err != nil {
		return serveConfig{}, err
	}
	if err := readPEM("key", raw.Key, &cfg.KeyPEM); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(ctx *cli.Context, cfg serveConfig) (serveConfig, error) {
	if ctx.IsSet("mode") {
		cfg.Mode = ctx.String("mode")
	}
	if ctx.IsSet("addr") {
		cfg.Addr = ctx.String("addr")
	}
	if ctx.IsSet("log-level") {
		level, err := zapcore.ParseLevel(ctx.String("log-level"))
		if err != nil {
			return serveConfig{}, fmt.Errorf("parsing log level: %w", err)
		}
		cfg.LogLevel = level
	}
	if ctx.IsSet("dev") {
		cfg.Development = ctx.Bool("dev")
	}
	if ctx.IsSet("trace") {
		cfg.Trace = conn.TraceFromString(ctx.String("trace"))
	}
	if ctx.IsSet("idle-timeout") {
		cfg.IdleTimeout = ctx.Duration("idle-timeout")
	}

	decode := func(flag string, dst *[]byte) error {
		if !ctx.IsSet(flag) {
			return nil
		}
		b, err := base64.StdEncoding.DecodeString(ctx.String(flag))
		if err != nil {
			return fmt.Errorf("decoding %s: %w", flag, err)
		}
		*dst = b
		return nil
	}
	if err := decode("ca-cert-pem", &cfg.CACertPEM); err != nil {
		return serveConfig{}, err
	}
	if err := decode("cert-pem", &cfg.CertPEM); err != nil {
		return serveConfig{}, err
	}
	if err := decode("key-pem", &cfg.KeyPEM); err != nil {
		return serveConfig{}, err
	}
	return cfg, nil
}

// resolveServeConfig layers defaults, the config file and flags, in that order.
func resolveServeConfig(ctx *cli.Context) (serveConfig, error) {
	cfg := defaultServeConfig()

	path := ctx.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return serveConfig{}, fmt.Errorf("getting working dir: %w", err)
		}
		path, err = findConfig(wd)
		if err != nil {
			return serveConfig{}, err
		}
	}
	if path != "" {
		var err error
		cfg, err = loadServeConfig(path, cfg)
		if err != nil {
			return serveConfig{}, err
		}
	}

	cfg, err := applyFlags(ctx, cfg)
	if err != nil {
		return serveConfig{}, err
	}
	return cfg, cfg.validate()
}
