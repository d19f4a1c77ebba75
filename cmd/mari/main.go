package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tiger/mari-voice/internal/config"
	"github.com/tiger/mari-voice/internal/notify"
	"github.com/tiger/mari-voice/internal/observability/logging"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
	"github.com/tiger/mari-voice/internal/session"
	"github.com/tiger/mari-voice/providers/auth/supabase"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "mari: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":    {summary: "entrar com email e senha", run: runLogin},
	"logout":   {summary: "encerrar a sessão", run: runLogout},
	"register": {summary: "criar uma conta", run: runRegister},
	"profile":  {summary: "mostrar seus dados", run: runProfile},
	"welcome":  {summary: "boas-vindas e perguntas sugeridas", run: runWelcome},
	"ask":      {summary: "perguntar algo à Mari (guarda a pergunta até o login)", run: runAsk},
	"chat":     {summary: "conversar por texto", run: runChat},
	"talk":     {summary: "conversar por áudio", run: runTalk},
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, now func() time.Time) error {
	global := flag.NewFlagSet("mari", flag.ContinueOnError)
	global.SetOutput(stderr)
	envFile := global.String("env", "", "path to a .env file with MARI_* settings")
	global.Usage = func() { printUsage(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout)
		return nil
	}
	switch rest[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	a, err := newApp(*envFile, stdin, stdout, stderr, now)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.run(ctx, a, rest[1:])
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "mari usage:")
	_, _ = fmt.Fprintln(w, "  mari [-env file] <command> [flags]")
	_, _ = fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
	_, _ = fmt.Fprintln(w, "Examples:")
	_, _ = fmt.Fprintln(w, "  mari welcome")
	_, _ = fmt.Fprintln(w, "  mari ask \"Como evitar procrastinação?\"")
	_, _ = fmt.Fprintln(w, "  mari talk -file pergunta.webm -once")
}

// app holds the per-run collaborators shared by commands.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	telemetry *telemetry.Pipeline
	session   *session.Context
	notifier  notify.Notifier
	in        *bufio.Scanner
	out       io.Writer
	errOut    io.Writer
	now       func() time.Time
}

func newApp(envFile string, stdin io.Reader, stdout, stderr io.Writer, now func() time.Time) (*app, error) {
	cfg, err := config.Load(config.Options{EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile, Console: stderr})
	if err != nil {
		return nil, err
	}
	pipeline, err := telemetry.NewFromSettings(telemetry.Settings{
		OTLPHTTPEndpoint: cfg.TelemetryOTLPHTTPEndpoint,
		ServiceName:      "mari-voice",
	}, logger)
	if err != nil {
		return nil, err
	}

	var auth session.Authenticator
	if cfg.SupabaseConfigured() {
		client, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey, Logger: logger})
		if err != nil {
			return nil, err
		}
		auth = client
	}
	sess, err := session.Open(session.Config{
		Store:  session.NewStore(cfg.SessionFile),
		Auth:   auth,
		Now:    now,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	notifiers := notify.Multi{notify.NewTerminal(stdout)}
	if cfg.NotifyDesktop {
		notifiers = append(notifiers, notify.NewDesktop(logger))
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: pipeline,
		session:   sess,
		notifier:  notifiers,
		in:        scanner,
		out:       stdout,
		errOut:    stderr,
		now:       now,
	}, nil
}

func (a *app) close() {
	if err := a.telemetry.Close(); err != nil {
		a.logger.Debug("telemetry close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// readLine returns the next stdin line, or io.EOF.
func (a *app) readLine() (string, error) {
	if !a.in.Scan() {
		if err := a.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return a.in.Text(), nil
}

// prompt prints label and reads one line.
func (a *app) prompt(label string) (string, error) {
	_, _ = fmt.Fprint(a.out, label)
	return a.readLine()
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
