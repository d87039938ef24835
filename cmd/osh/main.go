package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/guseggert/osh/agent"
	inet "github.com/guseggert/osh/internal/net"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const usage = `Usage: osh <server_host> [port]
Example: osh localhost
Example: osh 192.168.1.100 8080`

func main() {
	app := &cli.App{
		Name:      "osh",
		Usage:     "run commands on an oshd server",
		ArgsUsage: "<server_host> [port]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait-interval",
				Usage: "How long to wait for more output before treating a response as complete.",
				Value: agent.DefaultWaitInterval,
			},
			&cli.DurationFlag{
				Name:  "dial-timeout",
				Usage: "How long to wait when connecting to the server.",
				Value: 5 * time.Second,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level. One of [debug,info,warn,error].",
				Value: "warn",
			},
		},
		Action: func(ctx *cli.Context) error {
			if !ctx.Args().Present() {
				return cli.Exit(usage, 1)
			}
			host := ctx.Args().Get(0)
			port := agent.DefaultPort
			if ctx.Args().Len() > 1 {
				p, err := inet.ParsePort(ctx.Args().Get(1))
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				port = p
			}

			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logger, err := zap.NewDevelopment(zap.IncreaseLevel(level))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			client, err := agent.Dial(ctx.Context, host, port,
				agent.WithClientLogger(logger),
				agent.WithClientWaitInterval(ctx.Duration("wait-interval")),
				agent.WithClientDialTimeout(ctx.Duration("dial-timeout")),
			)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Failed to connect to server: %s", err), 1)
			}
			defer client.Close()

			fmt.Printf("Connected to the server (%s) successfully\n", client.RemoteAddr())
			err = client.ReadGreeting()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			shellOpts := []agent.ShellOption{agent.WithShellLogger(logger)}
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				shellOpts = append(shellOpts, agent.WithPrompt(""))
			}
			err = agent.NewShell(client, os.Stdin, os.Stdout, shellOpts...).Run()
			client.Close()
			fmt.Println("Connection closed.")
			return err
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
