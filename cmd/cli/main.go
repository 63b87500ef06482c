package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"arenaoj/internal/cli/command"
	"arenaoj/internal/cli/config"
	"arenaoj/internal/cli/http"
	"arenaoj/internal/cli/repl"
	"arenaoj/internal/cli/state"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	submitter := flag.String("submitter", "", "Override default submitter id")
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

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *submitter != "" {
		session.SubmitterID = *submitter
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "arenaoj> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(command.Commands()),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init terminal failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = rl.Close()
	}()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return session.SubmitterID
	})
	wait := repl.WaitConfig{Interval: cfg.WaitInterval, Timeout: cfg.WaitTimeout}
	sess := repl.New(client, command.Registry(), &session, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, wait, rl, rl.Stdout())
	sess.Run(context.Background())
}
