package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/guseggert/osh/agent"
	inet "github.com/guseggert/osh/internal/net"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:      "oshd",
		Usage:     "run commands sent by osh clients",
		ArgsUsage: "[port]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-host",
				Usage: "The host address to listen on.",
				Value: "0.0.0.0",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.IntFlag{
				Name:  "max-line-length",
				Usage: "The longest command line accepted from a client, in bytes.",
				Value: agent.DefaultMaxLineLength,
			},
		},
		Action: func(ctx *cli.Context) error {
			port := agent.DefaultPort
			if ctx.Args().Present() {
				p, err := inet.ParsePort(ctx.Args().First())
				if err != nil {
					return err
				}
				port = p
			}

			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			a, err := agent.NewAgent(
				agent.WithListenAddr(net.JoinHostPort(ctx.String("listen-host"), strconv.Itoa(port))),
				agent.WithLogLevel(level),
				agent.WithMaxLineLength(ctx.Int("max-line-length")),
			)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			err = a.Listen()
			if err != nil {
				return fmt.Errorf("binding port %d: %w", port, err)
			}
			fmt.Printf("Server listening on port %d...\n", port)

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				if err := a.Stop(); err != nil {
					log.Printf("error stopping agent: %s", err)
				}
			}()

			return a.Serve()
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
