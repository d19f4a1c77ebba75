package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{URL: server.URL, AnonKey: "anon-key", Timeout: 2 * time.Second})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return client
}

func TestNewRequiresURLAndKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "https://example.supabase.co"})
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body["email"])
		assert.Equal(t, "secret", body["password"])

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "ana@example.com"},
		})
	})

	session, err := client.Login(context.Background(), "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access", session.AccessToken)
	assert.Equal(t, "user-1", session.User.ID)
	assert.Equal(t, time.Unix(1_700_003_600, 0).UTC(), session.ExpiresAt)
	assert.False(t, session.Expired(time.Unix(1_700_000_000, 0)))
	assert.True(t, session.Expired(time.Unix(1_700_003_600, 0)))
}

func TestLoginErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   string
	}{
		{
			name:   "invalid credentials",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			want:   "Email ou senha incorretos. Verifique suas credenciais e tente novamente.",
		},
		{
			name:   "email not confirmed",
			status: http.StatusBadRequest,
			body:   map[string]any{"code": 400, "error_code": "email_not_confirmed", "msg": "Email not confirmed"},
			want:   "Email não confirmado. Verifique sua caixa de entrada e confirme seu email antes de fazer login.",
		},
		{
			name:   "other server message",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"msg": "Request rate limit reached"},
			want:   "Request rate limit reached",
		},
		{
			name:   "no message",
			status: http.StatusInternalServerError,
			body:   map[string]any{},
			want:   "Erro no login. Tente novamente.",
		},
		{
			name:   "no session",
			status: http.StatusOK,
			body:   map[string]any{"user": map[string]any{"id": "user-1"}},
			want:   "Login falhou. Tente novamente.",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := client.Login(context.Background(), "ana@example.com", "wrong")
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, OpLogin, authErr.Op)
			assert.Equal(t, "Erro no login", authErr.ToastTitle())
			assert.Equal(t, tc.want, authErr.UserMessage())
		})
	}
}

func TestLoginTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()
	client, err := New(Config{URL: server.URL, AnonKey: "anon", Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "ana@example.com", "secret")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Erro inesperado no login. Tente novamente.", authErr.UserMessage())
}

func TestRegister(t *testing.T) {
	t.Parallel()

	form := Registration{
		Email: "ana@example.com", Password: "secret123", Name: "Ana Souza",
		Phone: "(11) 98765-4321", Gender: "feminino", BirthDate: "1990-05-20",
		State: "SP", City: "São Paulo",
	}

	t.Run("confirmation pending", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/signup", r.URL.Path)
			var body struct {
				Email string            `json:"email"`
				Data  map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ana@example.com", body.Email)
			assert.Equal(t, "1990-05-20", body.Data["birth_date"])
			assert.Equal(t, "São Paulo", body.Data["city"])
			writeJSON(w, http.StatusOK, map[string]any{"id": "user-2", "email": "ana@example.com"})
		})

		user, session, err := client.Register(context.Background(), form)
		require.ErrorIs(t, err, ErrEmailConfirmationPending)
		assert.Equal(t, "user-2", user.ID)
		assert.Empty(t, session.AccessToken)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Confirme seu email", authErr.ToastTitle())
		assert.Equal(t, "Cadastro realizado! Verifique seu email para confirmar sua conta antes de fazer login.", authErr.UserMessage())
	})

	t.Run("auto confirmed", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "access",
				"expires_at":   1_700_010_000,
				"user": map[string]any{
					"id": "user-3", "email": "ana@example.com",
					"email_confirmed_at": "2024-01-01T00:00:00Z",
				},
			})
		})

		user, session, err := client.Register(context.Background(), form)
		require.NoError(t, err)
		assert.Equal(t, "user-3", user.ID)
		assert.Equal(t, "access", session.AccessToken)
		assert.Equal(t, time.Unix(1_700_010_000, 0).UTC(), session.ExpiresAt)
	})

	t.Run("already registered", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"msg": "User already registered"})
		})

		_, _, err := client.Register(context.Background(), form)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Erro no cadastro", authErr.ToastTitle())
		assert.Equal(t, "Este email já está cadastrado. Tente fazer login ou use outro email.", authErr.UserMessage())
	})
}

func TestLogoutUsesGlobalScope(t *testing.T) {
	t.Parallel()

	called := make(chan *http.Request, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called <- r
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Logout(context.Background(), "user-token"))
	r := <-called
	assert.Equal(t, "/auth/v1/logout", r.URL.Path)
	assert.Equal(t, "global", r.URL.Query().Get("scope"))
	assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

	require.NoError(t, client.Logout(context.Background(), ""))
}

func TestProfile(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("id"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		if r.URL.Query().Get("id") != "eq.user-1" {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id": "user-1", "name": "Ana Souza", "phone": nil, "birth_date": "1990-05-20",
			"state": "SP", "city": "Campinas",
		}})
	})

	profile, err := client.Profile(context.Background(), "token", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", profile.Name)
	assert.Empty(t, profile.Phone)
	assert.Equal(t, "Campinas", profile.City)
}

func TestProfileNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	_, err := client.Profile(context.Background(), "token", "ghost")
	require.True(t, errors.Is(err, ErrProfileNotFound))
}
