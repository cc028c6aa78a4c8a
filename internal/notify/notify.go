// Package notify delivers human-facing trade notifications through the
// remote notification API. Strictly best-effort: enqueueing never blocks,
// the queue drops on overflow, and a dead API never affects trading.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/pkg/types"
)

type notification struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// Notifier queues messages and posts them to {api_url}/notify from a single
// dispatcher goroutine. Each account routes to its own chat.
type Notifier struct {
	cfg    config.NotifierConfig
	http   *resty.Client
	chats  map[string]string // account → chat id
	queue  chan notification
	logger *slog.Logger
}

func New(cfg config.NotifierConfig, accounts []types.Account, logger *slog.Logger) *Notifier {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	chats := make(map[string]string, len(accounts))
	for _, acc := range accounts {
		if acc.ChatID != "" {
			chats[acc.Name] = acc.ChatID
		}
	}
	return &Notifier{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.APIURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json").
			SetRetryCount(2),
		chats:  chats,
		queue:  make(chan notification, size),
		logger: logger.With("component", "notify"),
	}
}

// Notify enqueues a message for the account's chat. Accounts without a chat
// id configured are silently skipped; a full queue drops the message.
func (n *Notifier) Notify(account, message string) {
	if !n.cfg.Enabled {
		return
	}
	chat, ok := n.chats[account]
	if !ok {
		return
	}
	select {
	case n.queue <- notification{ChatID: chat, Message: fmt.Sprintf("[%s] %s", account, message)}:
	default:
		n.logger.Warn("notification queue full, dropped", "account", account)
	}
}

// Run drains the queue until the context ends.
func (n *Notifier) Run(ctx context.Context) {
	if !n.cfg.Enabled {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.send(ctx, msg)
		}
	}
}

func (n *Notifier) send(ctx context.Context, msg notification) {
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(msg).
		Post("/notify")
	if err != nil {
		n.logger.Warn("notification post failed", "chat_id", msg.ChatID, "err", err)
		return
	}
	if resp.IsError() {
		n.logger.Warn("notification rejected",
			"chat_id", msg.ChatID, "status", resp.StatusCode(), "body", resp.String())
	}
}
