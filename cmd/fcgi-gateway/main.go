// Command fcgi-gateway is a standalone demonstration of the gateway stack:
// it binds a FastCGI listener and answers every request with a small
// diagnostic page describing the decoded environment.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/gofcgi/wsgigateway/pkg/gateway"
	"github.com/gofcgi/wsgigateway/pkg/server"
	"github.com/gofcgi/wsgigateway/pkg/workerpool"
	"github.com/gofcgi/wsgigateway/version"
)

func main() {
	app := &cli.Command{
		Name:    "fcgi-gateway",
		Usage:   "FastCGI protocol engine and WSGI-style gateway",
		Version: version.FullVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: `listener network: "unix" or "tcp"`,
				Value: "unix",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "unix socket path, or host:port for tcp",
				Value: "/run/fcgi-gateway.sock",
			},
			&cli.IntFlag{
				Name:  "umask",
				Usage: "file-mode mask applied while binding a unix socket, -1 to leave unset",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "min-workers",
				Usage: "worker pool floor, 0 uses the CPU count",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "max-workers",
				Usage: "worker pool ceiling",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "direct-write",
				Usage: "use the direct-write response strategy instead of the buffered one",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("fcgi-gateway: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	configureLogging()

	poolConfig := workerpool.DefaultConfig()
	if n := cmd.Int("min-workers"); n > 0 {
		poolConfig.MinWorkers = int(n)
	}
	if n := cmd.Int("max-workers"); n > 0 {
		poolConfig.MaxWorkers = int(n)
	}

	strategy := gateway.BufferedRequest
	if cmd.Bool("direct-write") {
		strategy = gateway.DirectWriteRequest
	}

	var umask *int
	if v := int(cmd.Int("umask")); v >= 0 {
		umask = &v
	}

	cfg := server.Config{
		Network:  cmd.String("network"),
		Addr:     cmd.String("listen"),
		Umask:    umask,
		Pool:     poolConfig,
		Strategy: strategy,
	}

	gw := server.New(cfg, diagnosticApp)
	if err := gw.Start(); err != nil {
		return err
	}

	log.Printf("fcgi-gateway: listening on %s %s", cfg.Network, cfg.Addr)
	gw.Wait()
	return nil
}

// configureLogging trims the log line down to just the message when
// stderr isn't a terminal, since most process supervisors add their own
// timestamp prefix to captured output.
func configureLogging() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(0)
	}
}

// diagnosticApp is the demo Application: it reports the decoded WSGI-style
// environment back to the caller instead of doing any real work.
func diagnosticApp(env *gateway.Environ, start gateway.StartResponseFunc) (gateway.Body, error) {
	if _, err := start("200 OK", []gateway.HeaderField{{Name: "Content-Type", Value: "text/plain; charset=iso-8859-1"}}, false); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("fcgi-gateway diagnostic\nwsgi.url_scheme=%s\n%s\n", env.URLScheme, env.String())
	return gateway.NewBytesBody([]byte(body)), nil
}
