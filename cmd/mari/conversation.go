package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/tiger/mari-voice/internal/notify"
	"github.com/tiger/mari-voice/internal/playback"
	"github.com/tiger/mari-voice/internal/session"
	"github.com/tiger/mari-voice/internal/submission"
	"github.com/tiger/mari-voice/internal/textchat"
)

func runWelcome(_ context.Context, a *app, _ []string) error {
	if a.session.IsAuthenticated() {
		if p, ok := a.session.Profile(); ok {
			a.printf("Olá, %s!\n", session.FirstName(p.Name))
		}
	}
	a.printf("Eu sou a Mari, sua assistente. Pergunte o que quiser ou escolha uma sugestão:\n")
	n := 1
	for _, row := range textchat.SuggestedQuestions {
		a.printf("\n")
		for _, q := range row {
			a.printf("  %2d. %s\n", n, q)
			n++
		}
	}
	a.printf("\nmari ask -n <número> ou mari ask \"sua pergunta\"\n")
	return nil
}

func runAsk(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	pick := fs.Int("n", 0, "ask the n-th suggested question from mari welcome")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *pick > 0 {
		q, ok := textchat.Suggestion(*pick)
		if !ok {
			return fmt.Errorf("no suggested question %d", *pick)
		}
		question = q
	}
	if question == "" {
		return textchat.ErrBlankMessage
	}

	if a.cfg.SupabaseConfigured() && !a.session.IsAuthenticated() {
		if err := a.session.SetPending(question); err != nil {
			return err
		}
		a.printf("Sua pergunta foi guardada. Faça login ou cadastre-se para continuar:\n")
		a.printf("  mari login\n  mari register\n")
		return nil
	}
	return a.chatLoop(ctx, question, false)
}

func runChat(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	offline := fs.Bool("offline", false, "answer locally without calling the webhook")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pending, err := a.session.TakePending()
	if err != nil {
		return err
	}
	return a.chatLoop(ctx, pending, *offline)
}

// chatLoop sends first (when set) and then every stdin line until EOF or /sair.
func (a *app) chatLoop(ctx context.Context, first string, offline bool) error {
	cfg := textchat.Config{
		Metadata: a.session.Metadata,
		Logger:   a.logger,
	}
	if !offline {
		pipeline, err := submission.New(submission.Config{
			Endpoint:  a.cfg.TextWebhookURL,
			Timeout:   a.cfg.SubmitTimeout,
			SurfaceID: "text",
			Emitter:   a.telemetry,
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}
		cfg.Sender = pipeline
	}
	chat := textchat.New(cfg)
	player := playback.New(playback.Config{Command: a.cfg.PlayerCommand(), SurfaceID: "text", Emitter: a.telemetry, Logger: a.logger})
	defer player.Close()

	send := func(fn func() (textchat.Message, error)) {
		reply, err := fn()
		switch {
		case err == nil:
		case errors.Is(err, textchat.ErrBlankMessage):
			return
		case errors.Is(err, textchat.ErrNoPending):
			a.printf("Nenhuma mensagem pendente.\n")
			return
		default:
			a.notifier.Notify(notify.MessageToastFor(err))
			a.printf("(digite /retry para reenviar)\n")
			return
		}
		a.printf("Mari: %s\n", reply.Content)
		if reply.Reply.IsPlayable() {
			if err := player.Play(ctx, reply.Reply); err != nil {
				a.logger.Warn("reply playback failed", zap.Error(err))
			}
		}
	}

	if strings.TrimSpace(first) != "" {
		a.printf("Você: %s\n", first)
		send(func() (textchat.Message, error) { return chat.Send(ctx, first) })
	}
	for ctx.Err() == nil {
		line, err := a.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch strings.TrimSpace(line) {
		case "/sair", "/exit":
			return player.Wait(ctx)
		case "/retry":
			send(func() (textchat.Message, error) { return chat.Retry(ctx) })
			continue
		}
		send(func() (textchat.Message, error) { return chat.Send(ctx, line) })
	}
	if _, ok := chat.Pending(); ok {
		return errors.New("last message was not delivered")
	}
	return player.Wait(ctx)
}
