package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/tiger/mari-voice/internal/notify"
	"github.com/tiger/mari-voice/internal/session"
	"github.com/tiger/mari-voice/providers/auth/supabase"
)

var errAuthNotConfigured = errors.New("auth is not configured: set MARI_SUPABASE_URL and MARI_SUPABASE_ANON_KEY")

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.cfg.SupabaseConfigured() {
		return errAuthNotConfigured
	}
	var err error
	if *email == "" {
		if *email, err = a.prompt("Email: "); err != nil {
			return fmt.Errorf("read email: %w", err)
		}
	}
	if *password == "" {
		if *password, err = a.prompt("Senha: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if err := a.session.Login(ctx, *email, *password); err != nil {
		a.notifier.Notify(notify.ToastFor(err))
		return err
	}
	a.notifier.Notify(notify.LoggedIn)
	return a.afterSignIn(ctx)
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	var form session.RegistrationForm
	fs.StringVar(&form.Email, "email", "", "account email")
	fs.StringVar(&form.Password, "password", "", "account password, at least 6 characters")
	fs.StringVar(&form.Name, "name", "", "full name")
	fs.StringVar(&form.Phone, "phone", "", "phone with area code, up to 11 digits")
	fs.StringVar(&form.Gender, "gender", "", "one of: "+strings.Join(session.Genders, ", "))
	fs.StringVar(&form.BirthDate, "birth-date", "", "birth date as YYYY-MM-DD")
	fs.StringVar(&form.State, "state", "", "state")
	fs.StringVar(&form.City, "city", "", "city")
	fs.BoolVar(&form.AcceptTerms, "accept-terms", false, "accept the terms of use")
	fs.BoolVar(&form.AcceptBeta, "accept-beta", false, "acknowledge this is a beta version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.cfg.SupabaseConfigured() {
		return errAuthNotConfigured
	}

	err := a.session.Register(ctx, form)
	if errors.Is(err, supabase.ErrEmailConfirmationPending) {
		var authErr *supabase.AuthError
		if errors.As(err, &authErr) {
			a.notifier.Notify(notify.Toast{Title: authErr.ToastTitle(), Description: authErr.UserMessage(), Variant: notify.VariantDefault})
		}
		return nil
	}
	if err != nil {
		a.notifier.Notify(notify.ToastFor(err))
		return err
	}
	a.notifier.Notify(notify.Toast{Title: "Cadastro realizado!", Description: "Bem-vindo(a) à Mari AI!", Variant: notify.VariantDefault})
	return a.afterSignIn(ctx)
}

func runLogout(ctx context.Context, a *app, args []string) error {
	if err := a.session.Logout(ctx); err != nil {
		a.notifier.Notify(notify.Toast{Title: "Erro no logout", Description: "Ocorreu um erro ao fazer logout. Tente novamente.", Variant: notify.VariantDestructive})
		return err
	}
	a.notifier.Notify(notify.LoggedOut)
	return nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	if !a.session.IsAuthenticated() {
		a.printf("Faça login para ver seu perfil: mari login\n")
		return session.ErrNotAuthenticated
	}
	profile, ok := a.session.Profile()
	if a.cfg.SupabaseConfigured() {
		fresh, err := a.session.RefreshProfile(ctx)
		if err == nil {
			profile, ok = fresh, true
		} else if !ok {
			a.notifier.Notify(notify.ToastFor(err))
			return err
		}
	}
	if !ok {
		a.printf("Perfil ainda não disponível.\n")
		return nil
	}

	s := session.Summarize(profile)
	a.printf("Olá, %s!\n", s.FirstName)
	a.printf("  Nome:               %s\n", s.FullName)
	a.printf("  Telefone:           %s\n", s.Phone)
	a.printf("  Gênero:             %s\n", s.Gender)
	a.printf("  Data de Nascimento: %s\n", s.BirthDate)
	a.printf("  Localização:        %s\n", s.Location)
	return nil
}

// afterSignIn opens the chat with the question asked before login.
func (a *app) afterSignIn(ctx context.Context) error {
	pending, err := a.session.TakePending()
	if err != nil {
		return err
	}
	if pending == "" {
		return nil
	}
	a.printf("Enviando sua pergunta: %s\n", pending)
	return a.chatLoop(ctx, pending, false)
}
