package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"studyroom/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
	modeToken  = "token"
)

func main() {
	mode, args := parseMode(os.Args[1:])

	serverCfg, err := app.LoadServerConfig()
	if err != nil {
		fatal(err)
	}
	clientCfg, err := app.LoadClientConfig()
	if err != nil {
		fatal(err)
	}
	if mode == modeLocal && os.Getenv("STUDYROOM_ADDR") == "" {
		serverCfg.Addr = "127.0.0.1:0"
	}

	flagSet := flag.NewFlagSet("studyroom", flag.ExitOnError)
	flagSet.StringVar(&serverCfg.Addr, "addr", serverCfg.Addr, "server listen address")
	flagSet.StringVar(&serverCfg.Path, "path", serverCfg.Path, "websocket join path")
	flagSet.StringVar(&serverCfg.DBPath, "db", serverCfg.DBPath, "sqlite database path (defaults to a per-user path)")
	flagSet.StringVar(&serverCfg.Secret, "secret", serverCfg.Secret, "HS256 secret for identity tokens (server and token modes)")
	flagSet.StringVar(&clientCfg.ServerURL, "server-url", clientCfg.ServerURL, "server websocket URL (client mode)")
	flagSet.StringVar(&clientCfg.UserID, "user", clientCfg.UserID, "user id")
	flagSet.StringVar(&clientCfg.DisplayName, "name", clientCfg.DisplayName, "display name")
	flagSet.StringVar(&clientCfg.Token, "token", clientCfg.Token, "identity token issued by the auth service")
	flagSet.StringVar(&clientCfg.LogFile, "log-file", clientCfg.LogFile, "write client logs to this file")
	flagSet.IntVar(&clientCfg.RetryBudget, "retries", clientCfg.RetryBudget, "reconnect attempts before giving up (negative disables)")
	ttl := flagSet.Duration("ttl", 24*time.Hour, "token lifetime (token mode)")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	_ = flagSet.Parse(args)

	if *showVersion {
		fmt.Println(app.VersionString())
		return
	}

	if remaining := flagSet.Args(); len(remaining) > 0 {
		clientCfg.RoomID = remaining[0]
	}
	serverCfg.Path = app.NormalizeJoinPath(serverCfg.Path)
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	infof := func(format string, args ...interface{}) {
		if *quiet {
			return
		}
		log.Printf(format, args...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, infof)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg, infof)
	case modeToken:
		err = runTokenMode(serverCfg, clientCfg, *ttl)
	default:
		err = runClientMode(ctx, clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "studyroom: %v\n", err)
	os.Exit(1)
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	auth := "open joins"
	if cfg.Secret != "" {
		auth = "token auth"
	}
	infof("Study room server v%s listening on %s (ws path %s, db %s, %s)", app.Version, handle.Addr(), cfg.Path, cfg.DBPath, auth)
	return handle.Wait()
}

func runClientMode(ctx context.Context, cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or STUDYROOM_SERVER")
	}
	if cfg.RoomID == "" {
		return errors.New("usage: studyroom [client] [flags] ROOM_ID")
	}
	return app.RunClient(ctx, cfg)
}

func runTokenMode(serverCfg app.ServerConfig, clientCfg app.ClientConfig, ttl time.Duration) error {
	token, err := app.MintToken(serverCfg, clientCfg.UserID, clientCfg.DisplayName, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, infof func(string, ...interface{})) error {
	if clientCfg.RoomID == "" {
		clientCfg.RoomID = "lobby"
	}
	if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("Starting local study room server on %s (db %s)", handle.Addr(), serverCfg.DBPath)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	if serverCfg.Secret != "" && clientCfg.Token == "" {
		token, err := app.MintToken(serverCfg, clientCfg.UserID, clientCfg.DisplayName, 24*time.Hour)
		if err != nil {
			return err
		}
		clientCfg.Token = token
	}
	infof("Launching client against %s", clientCfg.ServerURL)

	if err := app.RunClient(ctx, clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeToken:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
