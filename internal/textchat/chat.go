// Package textchat keeps a typed conversation with the webhook.
package textchat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
)

var (
	ErrBlankMessage = errors.New("textchat: blank message")
	ErrNoPending    = errors.New("textchat: no pending message")
)

// Sender submits one typed message.
type Sender interface {
	SendText(ctx context.Context, sessionID, message string, user voice.UserMetadata) (voice.Result, error)
}

// Message is one history entry.
type Message struct {
	Content   string
	IsUser    bool
	Timestamp time.Time
	// Pending marks a user message whose send failed.
	Pending bool
	// Reply is the interpreted webhook reply for assistant messages.
	Reply voice.Result
}

type Config struct {
	// Sender is nil in offline mode; replies then come from LocalReply.
	Sender    Sender
	Metadata  func() voice.UserMetadata
	Clock     clockwork.Clock
	SessionID string
	Logger    *zap.Logger
}

// Chat is safe for concurrent use; sends are serialized.
type Chat struct {
	sendMu  sync.Mutex
	mu      sync.Mutex
	cfg     Config
	history []Message
	pending int
}

func New(cfg Config) *Chat {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metadata == nil {
		cfg.Metadata = func() voice.UserMetadata { return voice.UserMetadata{}.WithDefaults() }
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Logger = cfg.Logger.Named("textchat")
	return &Chat{cfg: cfg, pending: -1}
}

// Send appends text to the history and returns the assistant reply.
// Blank input is ignored. On failure the message stays pending.
func (c *Chat) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrBlankMessage
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.history = append(c.history, Message{Content: text, IsUser: true, Timestamp: c.cfg.Clock.Now()})
	idx := len(c.history) - 1
	c.mu.Unlock()

	return c.deliver(ctx, idx)
}

// Retry resends the pending message.
func (c *Chat) Retry(ctx context.Context) (Message, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	idx := c.pending
	c.mu.Unlock()
	if idx < 0 {
		return Message{}, ErrNoPending
	}
	return c.deliver(ctx, idx)
}

// Pending returns the message waiting for a retry.
func (c *Chat) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending < 0 {
		return "", false
	}
	return c.history[c.pending].Content, true
}

// History returns a copy of the conversation.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Chat) deliver(ctx context.Context, idx int) (Message, error) {
	c.mu.Lock()
	text := c.history[idx].Content
	c.mu.Unlock()

	var (
		result voice.Result
		err    error
	)
	if c.cfg.Sender == nil {
		result = voice.TextOnly(LocalReply(text))
	} else {
		result, err = c.cfg.Sender.SendText(ctx, c.cfg.SessionID, text, c.cfg.Metadata())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.history[idx].Pending = true
		c.pending = idx
		c.cfg.Logger.Warn("message kept for retry", zap.String("session_id", c.cfg.SessionID), zap.Error(err))
		return Message{}, err
	}
	c.history[idx].Pending = false
	c.pending = -1

	reply := Message{Content: replyText(result), Timestamp: c.cfg.Clock.Now(), Reply: result}
	c.history = append(c.history, reply)
	return reply, nil
}

func replyText(r voice.Result) string {
	if r.Text != "" {
		return r.Text
	}
	if r.IsPlayable() {
		return "🔊 Resposta em áudio"
	}
	return ""
}
