package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/sirupsen/logrus"

	"memrelay/internal/extract"
	"memrelay/internal/llm"
)

const (
	renderWidth  = 80
	renderIndent = 2
	// defaultAttachLimit caps an attached file when no limit= is given.
	defaultAttachLimit = 1 << 20
)

// Chatter is the part of llm.Client the REPL needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error)
}

type attachment struct {
	path    string
	content string
}

// App is an interactive chat session against an OpenAI-compatible model.
type App struct {
	client Chatter
	in     io.Reader
	out    io.Writer
	system string
	raw    bool

	history     []llm.Message
	attachments []attachment
	jsonMode    bool
}

// Option configures an App.
type Option func(*App)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithSystemPrompt prepends a system message to every conversation.
func WithSystemPrompt(s string) Option {
	return func(a *App) { a.system = s }
}

// WithRawOutput prints answers without markdown rendering.
func WithRawOutput() Option {
	return func(a *App) { a.raw = true }
}

// WithJSONMode starts the session with :json switched on.
func WithJSONMode() Option {
	return func(a *App) { a.jsonMode = true }
}

func New(client Chatter, opts ...Option) *App {
	a := &App{client: client, in: os.Stdin, out: os.Stdout}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run answers firstPrompt and returns when it is set; otherwise it reads
// prompts until the input ends.
func (a *App) Run(ctx context.Context, firstPrompt string) error {
	if line := strings.TrimSpace(firstPrompt); line != "" {
		return a.ask(ctx, line)
	}

	fmt.Fprint(a.out, "> ")
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, ":"):
			if !a.handleLocalCommand(line) {
				fmt.Fprintln(a.out, "Unknown command. Try :help")
			}
		default:
			if err := a.ask(ctx, line); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

// ask sends one user turn with the current attachments and prints the
// answer. History only grows when the call succeeds.
func (a *App) ask(ctx context.Context, line string) error {
	turn := llm.User(a.withAttachments(line))
	messages := make([]llm.Message, 0, len(a.history)+2)
	if a.system != "" {
		messages = append(messages, llm.System(a.system))
	}
	messages = append(messages, a.history...)
	messages = append(messages, turn)

	answer, err := a.client.Chat(ctx, messages, llm.ChatOptions{JSON: a.jsonMode})
	if err != nil {
		return err
	}
	a.history = append(a.history, turn, llm.Assistant(answer))
	logrus.WithFields(logrus.Fields{"turns": len(a.history) / 2, "chars": len(answer)}).Debug("answer received")

	if a.jsonMode {
		return a.printJSON(answer)
	}
	a.print(answer)
	return nil
}

func (a *App) withAttachments(line string) string {
	if len(a.attachments) == 0 {
		return line
	}
	var b strings.Builder
	b.WriteString("You have access to the following context files. Use them when answering.\n\n")
	for _, at := range a.attachments {
		b.WriteString("File: ")
		b.WriteString(at.path)
		b.WriteString("\n````\n")
		b.WriteString(at.content)
		b.WriteString("\n````\n\n")
	}
	b.WriteString(line)
	return b.String()
}

func (a *App) print(answer string) {
	if a.raw {
		fmt.Fprintln(a.out, answer)
		return
	}
	fmt.Fprint(a.out, string(markdown.Render(answer, renderWidth, renderIndent)))
}

// printJSON shows the extracted value indented, or the raw answer with a
// note when nothing could be recovered.
func (a *App) printJSON(answer string) error {
	v, ok := extract.Extract(answer)
	if !ok {
		fmt.Fprintln(a.out, "(no JSON found in answer)")
		fmt.Fprintln(a.out, answer)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}

func (a *App) handleLocalCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd := strings.TrimPrefix(strings.ToLower(fields[0]), ":")
	switch cmd {
	case "help":
		fmt.Fprintln(a.out, "Commands:\n  :attach <path> [limit=N]\n  :clear (clear attachments and history)\n  :json (toggle JSON answers)\n  :help")
		return true
	case "clear":
		a.attachments = a.attachments[:0]
		a.history = a.history[:0]
		fmt.Fprintln(a.out, "Attachments and history cleared.")
		return true
	case "json":
		a.jsonMode = !a.jsonMode
		state := "off"
		if a.jsonMode {
			state = "on"
		}
		fmt.Fprintf(a.out, "JSON mode %s.\n", state)
		return true
	case "attach":
		if len(fields) < 2 {
			fmt.Fprintln(a.out, "Usage: :attach <path> [limit=N]")
			return true
		}
		path := fields[1]
		limit := defaultAttachLimit
		if len(fields) >= 3 && strings.HasPrefix(fields[2], "limit=") {
			if n, err := strconv.Atoi(strings.TrimPrefix(fields[2], "limit=")); err == nil && n > 0 {
				limit = n
			}
		}
		contents, truncated, err := readAttachment(path, limit)
		if err != nil {
			fmt.Fprintf(a.out, "attach error: %v\n", err)
			return true
		}
		if truncated {
			fmt.Fprintln(a.out, "Note: content truncated.")
		}
		a.attachments = append(a.attachments, attachment{path: path, content: contents})
		fmt.Fprintf(a.out, "Attached %s (%d chars).\n", path, len(contents))
		logrus.WithFields(logrus.Fields{"path": path, "chars": len(contents), "truncated": truncated}).Info(":attach")
		return true
	}
	return false
}

// readAttachment returns at most limit bytes of path. Binary files are
// replaced by a placeholder.
func readAttachment(path string, limit int) (string, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", false, err
	}
	if fi.IsDir() {
		return "", false, errors.New("is a directory")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return "", false, err
	}
	truncated := len(b) > limit
	if truncated {
		b = b[:limit]
		// The cut may split the final rune.
		for i := 0; i < utf8.UTFMax-1 && len(b) > 0 && !utf8.Valid(b); i++ {
			b = b[:len(b)-1]
		}
	}
	if !utf8.Valid(b) {
		return "<binary omitted>", false, nil
	}
	return string(b), truncated, nil
}
