package textchat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/mari-voice/api/voice"
)

type scriptedSender struct {
	results []voice.Result
	errs    []error
	sent    []string
	users   []voice.UserMetadata
}

func (s *scriptedSender) SendText(_ context.Context, _ string, message string, user voice.UserMetadata) (voice.Result, error) {
	i := len(s.sent)
	s.sent = append(s.sent, message)
	s.users = append(s.users, user)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return voice.Failure(voice.ErrorClassTransport, "connection refused", 0), err
	}
	return s.results[i], nil
}

func TestSendAppendsHistory(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	sender := &scriptedSender{results: []voice.Result{voice.TextOnly("Olá! Como posso ajudar?")}}
	chat := New(Config{
		Sender:   sender,
		Clock:    clock,
		Metadata: func() voice.UserMetadata { return voice.UserMetadata{ID: "user-1", Name: "Ana"} },
	})

	reply, err := chat.Send(context.Background(), "Oi Mari")
	require.NoError(t, err)
	assert.Equal(t, "Olá! Como posso ajudar?", reply.Content)
	assert.False(t, reply.IsUser)

	history := chat.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Oi Mari", history[0].Content)
	assert.True(t, history[0].IsUser)
	assert.Equal(t, clock.Now(), history[0].Timestamp)
	assert.Equal(t, "user-1", sender.users[0].ID)
}

func TestBlankMessagesIgnored(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{}
	chat := New(Config{Sender: sender})
	_, err := chat.Send(context.Background(), " \n\t ")
	require.ErrorIs(t, err, ErrBlankMessage)
	assert.Empty(t, chat.History())
	assert.Empty(t, sender.sent)
}

func TestFailedSendKeepsMessagePending(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{
		errs:    []error{errors.New("connection refused"), nil},
		results: []voice.Result{{}, voice.TextOnly("Tudo certo agora.")},
	}
	chat := New(Config{Sender: sender})

	_, err := chat.Send(context.Background(), "Como evitar procrastinação?")
	require.Error(t, err)
	pending, ok := chat.Pending()
	require.True(t, ok)
	assert.Equal(t, "Como evitar procrastinação?", pending)
	require.Len(t, chat.History(), 1)
	assert.True(t, chat.History()[0].Pending)

	reply, err := chat.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tudo certo agora.", reply.Content)
	_, ok = chat.Pending()
	assert.False(t, ok)

	history := chat.History()
	require.Len(t, history, 2)
	assert.False(t, history[0].Pending)
	assert.Equal(t, []string{"Como evitar procrastinação?", "Como evitar procrastinação?"}, sender.sent)

	_, err = chat.Retry(context.Background())
	require.ErrorIs(t, err, ErrNoPending)
}

func TestPlayableReplyKeepsResult(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{results: []voice.Result{voice.PlayableURL("https://cdn.example/r.mp3")}}
	chat := New(Config{Sender: sender})
	reply, err := chat.Send(context.Background(), "Fale comigo")
	require.NoError(t, err)
	assert.True(t, reply.Reply.IsPlayable())
	assert.NotEmpty(t, reply.Content)
}

func TestOfflineModeUsesLocalReplies(t *testing.T) {
	t.Parallel()

	chat := New(Config{})
	reply, err := chat.Send(context.Background(), "Quero mais produtividade")
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "Pomodoro")
}
