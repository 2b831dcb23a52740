// Package sociosctl implements the command-line client for the sociosbot API.
package sociosctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
)

// DefaultTimeout outlasts the server's default write deadline so a slow
// answer still reaches the terminal.
const DefaultTimeout = 150 * time.Second

type Options struct {
	BaseURL    string
	APIKey     string
	Session    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// NewLineReader opens the interactive input for the chat command.
	NewLineReader func(prompt string) (LineReader, error)
}

type client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	stdout  io.Writer
	stderr  io.Writer
}

type apiError struct {
	status int
	body   []byte
}

func (e *apiError) Error() string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.body, &payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("http %d: %s", e.status, payload.Message)
	}
	return fmt.Sprintf("http %d: %s", e.status, strings.TrimSpace(string(e.body)))
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sociosctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sociosbot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	session := fs.String("session", defaults.Session, "chat session id (ask, history, reset, chat)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, DefaultTimeout), "HTTP timeout (e.g. 150s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	c := &client{
		http:    httpClient,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	sessionID := strings.TrimSpace(*session)

	var err error
	switch command {
	case "health":
		err = c.printJSON(ctx, http.MethodGet, "/v1/health")
	case "ready":
		err = c.printJSON(ctx, http.MethodGet, "/v1/ready")
	case "schema":
		err = c.schema(ctx)
	case "ask":
		question := strings.TrimSpace(strings.Join(rest, " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		err = c.ask(ctx, sessionID, question)
	case "history":
		if sessionID == "" {
			_, _ = fmt.Fprintln(stderr, "history requires -session")
			return 2
		}
		err = c.history(ctx, sessionID)
	case "reset":
		if sessionID == "" {
			_, _ = fmt.Fprintln(stderr, "reset requires -session")
			return 2
		}
		err = c.reset(ctx, sessionID)
		if err == nil {
			_, _ = fmt.Fprintln(stdout, "conversación reiniciada")
		}
	case "chat":
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		newReader := defaults.NewLineReader
		if newReader == nil {
			newReader = newReadlineReader
		}
		err = c.chat(ctx, sessionID, newReader)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", command, err)
		return 1
	}
	return 0
}

type answer struct {
	Answer    string `json:"answer"`
	SQL       string `json:"sql"`
	ErrorKind string `json:"error_kind"`
}

func (c *client) ask(ctx context.Context, sessionID, question string) error {
	path := "/v1/ask"
	if sessionID != "" {
		path = sessionPath(sessionID)
	}
	var resp answer
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"question": question}, &resp); err != nil {
		return err
	}
	c.printAnswer(resp)
	return nil
}

func (c *client) printAnswer(resp answer) {
	_, _ = fmt.Fprintln(c.stdout, resp.Answer)
	if resp.SQL != "" {
		_, _ = fmt.Fprintf(c.stderr, "sql: %s\n", resp.SQL)
	}
}

func (c *client) schema(ctx context.Context) error {
	var resp struct {
		Schema string `json:"schema"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/schema", nil, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.stdout, resp.Schema)
	return nil
}

func (c *client) history(ctx context.Context, sessionID string) error {
	var resp struct {
		Messages []struct {
			Role      string    `json:"role"`
			Content   string    `json:"content"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(sessionID), nil, &resp); err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(c.stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "role", "content", "at"})
	for i, msg := range resp.Messages {
		t.AppendRow(table.Row{i + 1, msg.Role, msg.Content, msg.CreatedAt.Local().Format(time.TimeOnly)})
	}
	t.Render()
	return nil
}

func (c *client) reset(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(sessionID), nil, nil)
}

func (c *client) printJSON(ctx context.Context, method, path string) error {
	var raw json.RawMessage
	if err := c.doJSON(ctx, method, path, nil, &raw); err != nil {
		return err
	}
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
	}
	return nil
}

func (c *client) doJSON(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &apiError{status: resp.StatusCode, body: raw}
	}
	if target == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sessionPath(sessionID string) string {
	return "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", false
	}
	return out.String(), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sociosctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema              GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <question...>   POST /v1/ask (or the -session conversation)")
	_, _ = fmt.Fprintln(w, "  history             GET the -session conversation")
	_, _ = fmt.Fprintln(w, "  reset               DELETE the -session conversation")
	_, _ = fmt.Fprintln(w, "  chat                interactive conversation (/reset, /quit)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
