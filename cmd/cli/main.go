package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"develevate/internal/cli/command"
	"develevate/internal/cli/config"
	httpclient "develevate/internal/cli/http"
	"develevate/internal/cli/repl"
	"develevate/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 30s)")
	session := flag.String("session", "", "Override session id")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *session != "" {
		sessionState.SessionID = *session
	}
	if err := state.Save(cfg.StatePath, sessionState); err != nil {
		fmt.Fprintf(os.Stderr, "save session state failed: %v\n", err)
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return sessionState.SessionID
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	commands := command.Registry()
	sess := repl.New(client, commands, &sessionState, cfg.StatePath, cfg.HistoryPath, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	if err := sess.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
