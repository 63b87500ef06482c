package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arenaoj/internal/cli/command"
	httpclient "arenaoj/internal/cli/http"
	"arenaoj/internal/cli/state"
	"arenaoj/internal/judge/model"
	pkgerrors "arenaoj/pkg/errors"
	"arenaoj/pkg/retry"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "arenaoj> "

// LineReader is the subset of *readline.Instance the session drives.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// WaitConfig bounds "judge wait" polling.
type WaitConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	session    *state.Session
	statePath  string
	prettyJSON bool
	wait       WaitConfig
	in         LineReader
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.Session, statePath string, prettyJSON bool, wait WaitConfig, in LineReader, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		session:    session,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		wait:       wait,
		in:         in,
		out:        out,
	}
}

// Completer builds tab completion for the registered commands.
func Completer(commands []command.Command) *readline.PrefixCompleter {
	actions := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, cmd := range commands {
		if _, ok := actions[cmd.Service]; !ok {
			order = append(order, cmd.Service)
		}
		actions[cmd.Service] = append(actions[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := make([]readline.PrefixCompleterInterface, 0, len(order)+5)
	for _, service := range order {
		items = append(items, readline.PcItem(service, actions[service]...))
	}
	items = append(items,
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("submitter"), readline.PcItem("language")),
		readline.PcItem("show", readline.PcItem("session"), readline.PcItem("config")),
		readline.PcItem("clear", readline.PcItem("session")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit, EOF or an interrupt on an empty line.
func (s *Session) Run(ctx context.Context) {
	for {
		s.in.SetPrompt(defaultPrompt)
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	if line == "clear session" {
		*s.session = state.Session{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear session failed: %v", err)
			return true
		}
		s.printLine("session cleared")
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|submitter|language <value>")
		return
	}
	if len(parts) < 2 {
		s.printLine("usage: set %s <value>", parts[0])
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "submitter":
		s.session.SubmitterID = parts[1]
		s.saveSession()
		s.printLine("submitter set to %s", parts[1])
	case "language":
		s.session.Language = parts[1]
		s.saveSession()
		s.printLine("language set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "session":
		s.printLine("submitter: %s", orEmpty(s.session.SubmitterID))
		s.printLine("language: %s", orEmpty(s.session.Language))
		s.printLine("last submission: %s", orEmpty(s.session.LastSubmissionID))
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show session|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	s.applySessionDefaults(cmd, params)
	command.MarkFileBacked(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}

	if cmd.Key() == "judge wait" {
		return s.waitTerminal(ctx, req)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Key() == "judge submit" {
		s.rememberSubmission(resp)
	}
	return nil
}

func (s *Session) applySessionDefaults(cmd command.Command, params command.Params) {
	switch cmd.Key() {
	case "judge submit":
		if params.Get("submitter_id") == "" && s.session.SubmitterID != "" {
			params.Set("submitter_id", s.session.SubmitterID)
		}
		if params.Get("language") == "" && s.session.Language != "" {
			params.Set("language", s.session.Language)
		}
	case "judge status", "judge wait":
		if params.Get("id") == "" && s.session.LastSubmissionID != "" {
			params.Set("id", s.session.LastSubmissionID)
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range command.Missing(cmd, params) {
		s.in.SetPrompt(field.Prompt + ": ")
		value, err := s.in.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

type statusView struct {
	Status   model.Status `json:"status"`
	Progress string       `json:"progress"`
}

// waitTerminal polls the submission until it reaches a terminal status.
func (s *Session) waitTerminal(ctx context.Context, req command.RequestSpec) error {
	ctx, cancel := context.WithTimeout(ctx, s.wait.Timeout)
	defer cancel()

	var last string
	for attempt := 0; ; attempt++ {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			s.renderResponse(resp)
			return nil
		}
		env, err := resp.Decode()
		if err != nil {
			return err
		}
		var view statusView
		if err := json.Unmarshal(env.Data, &view); err != nil {
			return fmt.Errorf("decode status failed: %w", err)
		}
		line := view.Progress
		if line == "" {
			line = string(view.Status)
		}
		if line != last {
			s.printLine("%s", line)
			last = line
		}
		if view.Status.IsTerminal() {
			s.renderResponse(resp)
			return nil
		}

		timer := time.NewTimer(retry.Delay(attempt, s.wait.Interval, 4*s.wait.Interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("submission still %s after %s", view.Status, s.wait.Timeout)
		case <-timer.C:
		}
	}
}

func (s *Session) rememberSubmission(resp httpclient.ResponseInfo) {
	env, err := resp.Decode()
	if err != nil || env.Code != int(pkgerrors.Success) {
		return
	}
	var data struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SubmissionID == "" {
		return
	}
	s.session.LastSubmissionID = data.SubmissionID
	s.saveSession()
}

func (s *Session) saveSession() {
	if err := state.Save(s.statePath, *s.session); err != nil {
		s.printLine("save session failed: %v", err)
	}
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	if traceID := resp.TraceID(); traceID != "" {
		s.printLine("HTTP %d (%s) trace=%s", resp.StatusCode, resp.Duration, traceID)
	} else {
		s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|submitter|language | show session|config | clear session")
	s.printLine("commands:")
	for _, cmd := range command.Commands() {
		s.printLine("  %s", cmd.Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func orEmpty(v string) string {
	if v == "" {
		return "<empty>"
	}
	return v
}
