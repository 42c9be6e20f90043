package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/host"
	"github.com/guseggert/rpcconn/transport"
	"github.com/guseggert/rpcconn/transport/ws"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "rpcagent",
		Usage: "serve and call JSON-RPC methods over stdio, TCP or WebSocket",
		Commands: []*cli.Command{
			serveCommand(),
			callCommand(),
			certsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func tlsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "ca-cert-pem",
			Usage: "The CA cert PEM bytes to use (base64-encoded).",
		},
		&cli.StringFlag{
			Name:  "cert-pem",
			Usage: "The cert PEM bytes to use (base64-encoded).",
		},
		&cli.StringFlag{
			Name:  "key-pem",
			Usage: "The key PEM bytes to use (base64-encoded).",
		},
	}
}

func newLogger(cfg serveConfig) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.Development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.WithOptions(zap.IncreaseLevel(cfg.LogLevel)), nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the sum, echo and sleep methods",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a TOML config file. Defaults to the nearest " + configFileName + ".",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Transport to serve on. One of [stdio,tcp,ws].",
				Value: "stdio",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "The address to listen on in tcp and ws modes.",
				Value: "127.0.0.1:8080",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level.",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Use the development logger.",
			},
			&cli.StringFlag{
				Name:  "trace",
				Usage: "Message tracing. One of [off,messages,verbose].",
				Value: "off",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Exit after this long without connections. Zero disables it.",
			},
		}, tlsFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := resolveServeConfig(ctx)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()
			return serve(ctx.Context, cfg, logger)
		},
	}
}

func connOptions(cfg serveConfig, logger *zap.Logger) []conn.Option {
	sugar := logger.Sugar()
	return []conn.Option{
		conn.WithLogger(sugar.Named("conn")),
		conn.WithTrace(cfg.Trace, conn.TracerFunc(func(msg string) {
			sugar.Named("trace").Info(strings.TrimRight(msg, "\n"))
		})),
	}
}

func serve(ctx context.Context, cfg serveConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	sugar := logger.Sugar()
	setup := func(c *conn.Connection) {
		registerMethods(c, sugar)
	}

	if cfg.Mode == "stdio" {
		c := transport.Stdio(connOptions(cfg, logger)...)
		setup(c)
		if err := c.Listen(); err != nil {
			return err
		}
		select {
		case <-c.Closed():
			return nil
		case <-ctx.Done():
			return c.Dispose()
		}
	}

	opts := []host.Option{
		host.WithLogger(logger),
		host.WithConnOptions(connOptions(cfg, logger)...),
	}
	if cfg.Mode == "tcp" {
		opts = append(opts, host.WithTCPAddr(cfg.Addr))
	} else {
		opts = append(opts, host.WithHTTPAddr(cfg.Addr))
	}
	if cfg.tls() {
		tlsConfig, err := host.ServerTLSConfig(cfg.CACertPEM, cfg.CertPEM, cfg.KeyPEM)
		if err != nil {
			return err
		}
		opts = append(opts, host.WithTLSConfig(tlsConfig))
	}
	if cfg.IdleTimeout > 0 {
		opts = append(opts, host.WithIdleTimeout(cfg.IdleTimeout, stop))
	}

	h, err := host.New(setup, opts...)
	if err != nil {
		return fmt.Errorf("building host: %w", err)
	}
	if err := h.Start(); err != nil {
		return err
	}
	sugar.Infof("serving %s on %s", cfg.Mode, cfg.Addr)

	go func() {
		<-ctx.Done()
		sugar.Info("stopping")
		if err := h.Stop(); err != nil {
			sugar.Warnf("stopping host: %s", err)
		}
	}()
	return h.Wait()
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "send one request or notification and print the result",
		ArgsUsage: "METHOD [PARAMS_JSON]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Transport to dial. One of [tcp,ws,ws-stream].",
				Value: "tcp",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "The address to dial.",
				Value: "127.0.0.1:8080",
			},
			&cli.BoolFlag{
				Name:  "notify",
				Usage: "Send a notification instead of a request.",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Cancel the request after this long.",
				Value: time.Minute,
			},
		}, tlsFlags()...),
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return errors.New("missing method")
			}
			method := ctx.Args().Get(0)
			var params any
			if ctx.NArg() > 1 {
				raw := json.RawMessage(ctx.Args().Get(1))
				if !json.Valid(raw) {
					return fmt.Errorf("params are not valid JSON: %s", raw)
				}
				params = raw
			}

			cfg, err := applyFlags(ctx, defaultServeConfig())
			if err != nil {
				return err
			}
			var tlsConfig *tls.Config
			if cfg.tls() {
				tlsConfig, err = host.ClientTLSConfig(cfg.CACertPEM, cfg.CertPEM, cfg.KeyPEM)
				if err != nil {
					return err
				}
			}

			callCtx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
			defer cancel()
			c, err := dial(callCtx, ctx.String("mode"), ctx.String("addr"), tlsConfig)
			if err != nil {
				return err
			}
			defer c.Dispose()
			if err := c.Listen(); err != nil {
				return err
			}

			if ctx.Bool("notify") {
				return c.SendNotification(method, params)
			}
			var result json.RawMessage
			if err := c.Call(callCtx, method, params, &result); err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, string(result))
			return nil
		},
	}
}

func dial(ctx context.Context, mode, addr string, tlsConfig *tls.Config) (*conn.Connection, error) {
	scheme := "ws"
	client := http.DefaultClient
	if tlsConfig != nil {
		scheme = "wss"
		client = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}
	switch mode {
	case "tcp":
		return transport.Dial(ctx, "tcp", addr, tlsConfig)
	case "ws":
		return ws.Dial(ctx, fmt.Sprintf("%s://%s/rpc", scheme, addr), client)
	case "ws-stream":
		return ws.DialStream(ctx, fmt.Sprintf("%s://%s/rpc/stream", scheme, addr), client)
	default:
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
}

func certsCommand() *cli.Command {
	return &cli.Command{
		Name:  "certs",
		Usage: "generate a CA with server and client certs for mutual TLS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "out",
				Usage: "Directory to write the PEM files to.",
				Value: ".",
			},
			&cli.StringSliceFlag{
				Name:  "host",
				Usage: "Host names and IPs the server cert is valid for.",
			},
			&cli.BoolFlag{
				Name:  "base64",
				Usage: "Print the PEMs base64-encoded for the --*-pem flags instead of writing files.",
			},
		},
		Action: func(ctx *cli.Context) error {
			certs, err := host.GenerateCerts(ctx.StringSlice("host")...)
			if err != nil {
				return err
			}
			if ctx.Bool("base64") {
				enc := base64.StdEncoding.EncodeToString
				fmt.Fprintf(ctx.App.Writer, "ca-cert-pem=%s\n", enc(certs.CA.CertPEM))
				fmt.Fprintf(ctx.App.Writer, "server-cert-pem=%s\nserver-key-pem=%s\n", enc(certs.Server.CertPEM), enc(certs.Server.KeyPEM))
				fmt.Fprintf(ctx.App.Writer, "client-cert-pem=%s\nclient-key-pem=%s\n", enc(certs.Client.CertPEM), enc(certs.Client.KeyPEM))
				return nil
			}
			return writeCerts(ctx.String("out"), certs)
		},
	}
}

func writeCerts(dir string, certs *host.Certs) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	files := map[string][]byte{
		"ca.pem":         certs.CA.CertPEM,
		"server.pem":     certs.Server.CertPEM,
		"server-key.pem": certs.Server.KeyPEM,
		"client.pem":     certs.Client.CertPEM,
		"client-key.pem": certs.Client.KeyPEM,
	}
	for name, b := range files {
		if err := os.WriteFile(filepath.Join(dir, name), b, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
