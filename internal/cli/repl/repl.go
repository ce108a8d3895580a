package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"minoj/internal/cli/command"
	httpclient "minoj/internal/cli/http"
	"minoj/internal/cli/state"
	pkgerrors "minoj/pkg/errors"
)

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	rl         *readline.Instance
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath string, prettyJSON bool) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "minoj> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		rl:         rl,
	}, nil
}

func (s *Session) Close() error {
	return s.rl.Close()
}

func (s *Session) Run(ctx context.Context) {
	for {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				s.printLine("bye")
			} else {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		handled, quit := s.handleSystemCommand(line)
		if quit {
			return
		}
		if handled {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

// handleSystemCommand processes built-in commands. quit ends the session.
func (s *Session) handleSystemCommand(line string) (handled, quit bool) {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true, true
	case "help":
		s.printHelp()
		return true, false
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, false
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, false
	}
	return false, false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <token>")
			return
		}
		s.tokenState.Token = parts[1]
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.Token == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.Token
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "config":
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
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
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	s.applyParamShortcuts(&cmd, params)
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateTokenFromResponse(cmd, resp.Body)
	return nil
}

func (s *Session) applyParamShortcuts(cmd *command.Command, params command.Params) {
	if cmd.Service == "submit" && cmd.Action == "create" {
		if params.Get("code_file") != "" && params.Get("code") == "" {
			params.Set("code", "_file_")
		}
	}
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.rl.SetPrompt(prompt + ": ")
	defer s.rl.SetPrompt("minoj> ")
	line, err := s.rl.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
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

func (s *Session) updateTokenFromResponse(cmd command.Command, body []byte) {
	if cmd.Service != "auth" {
		return
	}
	type authData struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	type respEnvelope struct {
		Code int      `json:"code"`
		Data authData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.Token == "" {
		return
	}
	s.tokenState.Token = resp.Data.Token
	s.tokenState.ExpiresAt = resp.Data.ExpiresAt
	_ = state.Save(s.statePath, *s.tokenState)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config")
	s.printLine("examples:")
	s.printLine("  auth login username=demo password=secret123")
	s.printLine("  submit create problem_id=p1001 language=cpp code_file=./main.cpp")
	s.printLine("  submit list problem_id=p1001 page=1")
	s.printLine("  submit status id=<submission_id>")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.rl.Stdout(), format+"\n", args...)
}
