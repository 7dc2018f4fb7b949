package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"realty-chat/internal/auth"
	"realty-chat/internal/client"
	"realty-chat/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "rtclient",
		Usage: "talk to the realtime conversation server",
		Commands: []*cli.Command{
			tokenCommand(),
			connectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a development credential",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "user id to embed", Required: true},
			&cli.StringFlag{Name: "name", Usage: "display name"},
			&cli.StringFlag{Name: "secret", Usage: "signing secret", EnvVars: []string{"APP_SECRET"}, Required: true},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour, EnvVars: []string{"TOKEN_TTL"}},
		},
		Action: func(c *cli.Context) error {
			token, err := auth.NewTokenService(c.String("secret"), c.Duration("ttl")).
				GenerateToken(c.String("user"), c.String("name"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "open a connection, print incoming events and send stdin lines",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/ws", EnvVars: []string{"RT_URL"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"RT_TOKEN"}, Required: true},
			&cli.StringSliceFlag{Name: "join", Usage: "conversation to join, repeatable"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		},
		Action: runConnect,
	}
}

func runConnect(c *cli.Context) error {
	level := "info"
	if c.Bool("verbose") {
		level = "debug"
	}
	log, err := logger.New(level, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, resp, err := client.Dial(ctx, c.String("url"), c.String("token"))
	if err != nil {
		if resp != nil {
			log.Error("handshake refused", zap.Int("status", resp.StatusCode))
		}
		return err
	}
	defer func() { _ = conn.Close() }()

	joins := c.StringSlice("join")
	for _, id := range joins {
		if err := conn.Join(id); err != nil {
			return err
		}
		log.Info("joined", zap.String("conversation_id", id))
	}

	current := ""
	if len(joins) > 0 {
		current = joins[0]
	}
	session := client.NewSession(conn, current)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- conn.Listen(ctx, func(event client.Event) {
			line, _ := json.Marshal(event)
			fmt.Fprintln(c.App.Writer, string(line))
		})
		stop()
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return <-listenErr
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := session.HandleLine(line); err != nil {
				log.Warn("input rejected", zap.Error(err))
			}
		}
	}
}
