package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"campaignbot/internal/transport"
	logx "campaignbot/pkg/logx"
)

type Config struct {
	Token string
	// RequestTimeout bounds each Bot API call.
	RequestTimeout time.Duration
}

// Adapter implements transport.Session on top of the Telegram Bot API.
//
// Recipients are chat ids ("123456789", "-100...") or public usernames ("@name").
type Adapter struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	bot   *tele.Bot
	ready bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log}, nil
}

// AwaitPairing establishes the bot session (getMe). Telegram has no interactive
// pairing step, so this completes as soon as the token is accepted.
func (a *Adapter) AwaitPairing(ctx context.Context) error {
	a.mu.Lock()
	if a.bot != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	type result struct {
		bot *tele.Bot
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := tele.NewBot(tele.Settings{
			Token:  a.cfg.Token,
			Client: &http.Client{Timeout: a.cfg.RequestTimeout},
		})
		ch <- result{bot: b, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("telegram pairing: %w", r.err)
		}
		a.mu.Lock()
		a.bot = r.bot
		a.mu.Unlock()
		if r.bot.Me != nil {
			a.log.Info("paired", logx.String("bot", r.bot.Me.Username), logx.Int64("bot_id", r.bot.Me.ID))
		}
		return nil
	}
}

// AwaitReady marks the session usable. It fails if pairing has not completed.
func (a *Adapter) AwaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot == nil {
		return transport.ErrNotReady
	}
	a.ready = true
	a.log.Info("session ready")
	return nil
}

func (a *Adapter) Close(ctx context.Context) error {
	_ = ctx
	a.mu.Lock()
	a.ready = false
	a.bot = nil
	a.mu.Unlock()
	return nil
}

func (a *Adapter) session() (*tele.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot == nil || !a.ready {
		return nil, transport.ErrNotReady
	}
	return a.bot, nil
}

func (a *Adapter) Resolve(ctx context.Context, id transport.RecipientID) (transport.ResolvedID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := a.session()
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(id))
	if raw == "" {
		return "", transport.ErrRecipientUnknown
	}

	var chat *tele.Chat
	if chatID, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
		chat, err = bot.ChatByID(chatID)
	} else {
		if !strings.HasPrefix(raw, "@") {
			raw = "@" + raw
		}
		chat, err = bot.ChatByUsername(raw)
	}
	if err != nil {
		if isChatNotFound(err) {
			return "", fmt.Errorf("%w: %s", transport.ErrRecipientUnknown, id)
		}
		return "", err
	}
	if chat == nil {
		return "", transport.ErrRecipientUnknown
	}
	return transport.ResolvedID(strconv.FormatInt(chat.ID, 10)), nil
}

func isChatNotFound(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "chat not found") || strings.Contains(s, "user not found")
}

func (a *Adapter) Send(ctx context.Context, to transport.ResolvedID, p transport.Payload) error {
	bot, err := a.session()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(string(to), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid resolved id %q: %w", to, err)
	}
	chat := &tele.Chat{ID: chatID}

	if strings.TrimSpace(p.MediaPath) != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		photo := &tele.Photo{File: tele.FromDisk(p.MediaPath), Caption: truncateCaption(p.Text)}
		_, err := bot.Send(chat, photo)
		return err
	}

	return sendChunks(ctx, splitText(p.Text, textLimit), func(chunk string) error {
		_, err := bot.Send(chat, chunk, &tele.SendOptions{})
		return err
	})
}

// sendChunks sends chunks in order. A failure after the first chunk went out
// wraps transport.ErrPartialDelivery.
func sendChunks(ctx context.Context, chunks []string, send func(string) error) error {
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			if i > 0 {
				return fmt.Errorf("%w: %d of %d chunks sent: %w", transport.ErrPartialDelivery, i, len(chunks), err)
			}
			return err
		}
		if err := send(chunk); err != nil {
			if i > 0 {
				return fmt.Errorf("%w: %d of %d chunks sent: %w", transport.ErrPartialDelivery, i, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

const (
	textLimit    = 4000
	captionLimit = 1024
)

func truncateCaption(s string) string {
	rs := []rune(s)
	if len(rs) <= captionLimit {
		return s
	}
	return string(rs[:captionLimit])
}

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
