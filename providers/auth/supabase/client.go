// Package supabase talks to the Supabase auth (GoTrue) and PostgREST APIs.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

// Op names the auth operation an error came from.
type Op string

const (
	OpLogin    Op = "login"
	OpRegister Op = "register"
	OpLogout   Op = "logout"
	OpProfile  Op = "profile"
)

// Server messages with dedicated translations.
const (
	msgEmailNotConfirmed  = "Email not confirmed"
	msgInvalidCredentials = "Invalid login credentials"
	msgAlreadyRegistered  = "User already registered"
)

var (
	ErrEmailConfirmationPending = errors.New("supabase: email confirmation pending")
	ErrNoSession                = errors.New("supabase: response carried no session")
	ErrProfileNotFound          = errors.New("supabase: profile not found")
)

// AuthError is a failed auth call with a Portuguese user message.
type AuthError struct {
	Op         Op
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("supabase %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("supabase %s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) ToastTitle() string {
	switch e.Op {
	case OpRegister:
		if errors.Is(e.Err, ErrEmailConfirmationPending) {
			return "Confirme seu email"
		}
		return "Erro no cadastro"
	case OpLogout:
		return "Erro ao sair"
	case OpProfile:
		return "Erro ao carregar perfil"
	default:
		return "Erro no login"
	}
}

func (e *AuthError) UserMessage() string {
	switch e.Op {
	case OpLogin:
		switch e.Message {
		case msgEmailNotConfirmed:
			return "Email não confirmado. Verifique sua caixa de entrada e confirme seu email antes de fazer login."
		case msgInvalidCredentials:
			return "Email ou senha incorretos. Verifique suas credenciais e tente novamente."
		}
		if errors.Is(e.Err, ErrNoSession) {
			return "Login falhou. Tente novamente."
		}
		if e.StatusCode == 0 {
			return "Erro inesperado no login. Tente novamente."
		}
		return fallbackMessage(e.Message, "Erro no login. Tente novamente.")
	case OpRegister:
		if e.Message == msgAlreadyRegistered {
			return "Este email já está cadastrado. Tente fazer login ou use outro email."
		}
		if errors.Is(e.Err, ErrEmailConfirmationPending) {
			return "Cadastro realizado! Verifique seu email para confirmar sua conta antes de fazer login."
		}
		if errors.Is(e.Err, ErrNoSession) {
			return "Cadastro falhou. Tente novamente."
		}
		if e.StatusCode == 0 {
			return "Erro inesperado no cadastro. Tente novamente."
		}
		return fallbackMessage(e.Message, "Erro no cadastro. Tente novamente.")
	default:
		return fallbackMessage(e.Message, "Tente novamente mais tarde.")
	}
}

func fallbackMessage(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

// Config configures a Client.
type Config struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// User is the GoTrue user object.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// Session is a signed-in user with its tokens.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Profile is a row of the profiles table.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Gender    string `json:"gender"`
	BirthDate string `json:"birth_date"`
	State     string `json:"state"`
	City      string `json:"city"`
}

// Registration is the signup form.
type Registration struct {
	Email     string
	Password  string
	Name      string
	Phone     string
	Gender    string
	BirthDate string
	State     string
	City      string
}

// Client calls Supabase with the project's anon key.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

// New builds a client. URL and AnonKey are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, fmt.Errorf("supabase url and anon key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := httpadapter.NewClient(httpadapter.ClientConfig{
		Name:       "supabase",
		BaseURL:    cfg.URL,
		Timeout:    cfg.Timeout,
		Logger:     cfg.Logger,
		HTTPClient: cfg.HTTPClient,
		StaticHeaders: map[string]string{
			"apikey":        cfg.AnonKey,
			"Authorization": "Bearer " + cfg.AnonKey,
		},
	})
	return &Client{http: client, logger: cfg.Logger.Named("supabase"), now: time.Now}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

func (t tokenResponse) session(now time.Time) Session {
	s := Session{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, TokenType: t.TokenType}
	if t.User != nil {
		s.User = *t.User
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}

type apiError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/auth/v1/token")
	if err := c.check(OpLogin, resp, err); err != nil {
		return Session{}, err
	}
	if out.AccessToken == "" || out.User == nil {
		return Session{}, &AuthError{Op: OpLogin, StatusCode: resp.StatusCode(), Err: ErrNoSession}
	}
	c.logger.Info("signed in", zap.String("user_id", out.User.ID))
	return out.session(c.now()), nil
}

// signupResponse covers both shapes: a session when auto-confirm is on,
// a bare user when confirmation is pending.
type signupResponse struct {
	tokenResponse
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// Register signs up a new user. A user that still needs to confirm
// the email address is returned together with an error wrapping
// ErrEmailConfirmationPending.
func (c *Client) Register(ctx context.Context, reg Registration) (User, Session, error) {
	var out signupResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"email":    reg.Email,
			"password": reg.Password,
			"data": map[string]string{
				"name":       reg.Name,
				"phone":      reg.Phone,
				"gender":     reg.Gender,
				"birth_date": reg.BirthDate,
				"state":      reg.State,
				"city":       reg.City,
			},
		}).
		SetResult(&out).
		Post("/auth/v1/signup")
	if err := c.check(OpRegister, resp, err); err != nil {
		return User{}, Session{}, err
	}

	user := User{ID: out.ID, Email: out.Email, EmailConfirmedAt: out.EmailConfirmedAt, Metadata: out.Metadata}
	if out.User != nil {
		user = *out.User
	}
	if user.ID == "" {
		return User{}, Session{}, &AuthError{Op: OpRegister, StatusCode: resp.StatusCode(), Err: ErrNoSession}
	}
	if user.EmailConfirmedAt == nil || out.AccessToken == "" {
		return user, Session{}, &AuthError{Op: OpRegister, StatusCode: resp.StatusCode(), Err: ErrEmailConfirmationPending}
	}
	c.logger.Info("registered", zap.String("user_id", user.ID))
	return user, out.tokenResponse.session(c.now()), nil
}

// Logout revokes every session of the token's user.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("scope", "global").
		Post("/auth/v1/logout")
	return c.check(OpLogout, resp, err)
}

// Profile loads the profiles row of userID.
func (c *Client) Profile(ctx context.Context, accessToken, userID string) (Profile, error) {
	var rows []Profile
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("id", "eq."+userID).
		SetQueryParam("select", "*").
		SetHeader("Accept", "application/json").
		SetResult(&rows).
		Get("/rest/v1/profiles")
	if err := c.check(OpProfile, resp, err); err != nil {
		return Profile{}, err
	}
	if len(rows) == 0 {
		return Profile{}, &AuthError{Op: OpProfile, StatusCode: resp.StatusCode(), Message: "Perfil não encontrado.", Err: ErrProfileNotFound}
	}
	return rows[0], nil
}

func (c *Client) check(op Op, resp *resty.Response, err error) error {
	if err != nil {
		outcome := httpadapter.NormalizeNetworkError(err)
		return &AuthError{Op: op, Message: outcome.Reason, Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	outcome := httpadapter.NormalizeStatus(resp.StatusCode(), resp.Header().Get("Retry-After"))
	return &AuthError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Message:    body.text(),
		Err:        fmt.Errorf("%s (status %d)", outcome.Reason, resp.StatusCode()),
	}
}
