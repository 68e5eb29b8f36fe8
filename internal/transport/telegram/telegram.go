// Package telegram mirrors notifications to a Telegram chat.
//
// The sink is send-only: it never polls for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "msgshell/internal/transport"
	logx "msgshell/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration // per API call; default 8s
}

// Sender is the part of *tele.Bot the sink needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sink struct {
	cfg    Config
	log    logx.Logger
	sender Sender
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewWithSender(cfg, b, log), nil
}

func NewWithSender(cfg Config, s Sender, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, sender: s, log: log.With(logx.String("comp", "telegram"))}
}

func (s *Sink) Name() string { return kit.ChannelTelegram }

func (s *Sink) Send(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := Format(n)
	if text == "" {
		return nil
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		DisableNotification:   n.Silent,
		ThreadID:              s.cfg.ThreadID,
	}
	// telebot has no context-aware Send; the HTTP client timeout bounds it.
	if _, err := s.sender.Send(&tele.Chat{ID: s.cfg.ChatID}, text, opts); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	s.log.Debug("mirrored", logx.Int64("chat_id", s.cfg.ChatID), logx.Bool("silent", n.Silent))
	return nil
}

// Format renders n as Telegram HTML.
func Format(n kit.Notification) string {
	title := strings.TrimSpace(n.Title)
	body := strings.TrimSpace(n.Body)
	switch {
	case title == "" && body == "":
		return ""
	case title == "":
		return html.EscapeString(body)
	case body == "":
		return "<b>" + html.EscapeString(title) + "</b>"
	default:
		return "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(body)
	}
}
