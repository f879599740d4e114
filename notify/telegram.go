package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Telegram presents alerts as messages with inline-keyboard actions in
// a single chat. Showing a payload with a tag that is already on screen
// deletes the previous message first, so firings replace rather than
// stack while still re-alerting the user.
//
// Callback data is kept to a short token because Telegram caps it at 64
// bytes; the full payload metadata is held in an in-process registry
// keyed by that token and handed back to the action callback verbatim.
type Telegram struct {
	bot           *tg.BotAPI
	chatID        int64
	log           *zap.SugaredLogger
	retryAttempts int
	retryDelay    time.Duration

	mu     sync.Mutex
	nextID int64
	shown  map[string]shownAlert // by tag
	tokens map[int64]Payload
}

type shownAlert struct {
	messageID int
	token     int64
}

func NewTelegram(token string, chatID int64, log *zap.SugaredLogger) (*Telegram, error) {
	b, err := tg.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Telegram Bot")
	}

	b.Debug = false
	log.Infof("authorized on account %q", b.Self.UserName)

	return &Telegram{
		bot:           b,
		chatID:        chatID,
		log:           log,
		retryAttempts: 3,
		retryDelay:    1 * time.Second,
		shown:         make(map[string]shownAlert),
		tokens:        make(map[int64]Payload),
	}, nil
}

func (t *Telegram) Show(ctx context.Context, p Payload) error {
	_ = t.Dismiss(ctx, p.Tag)

	t.mu.Lock()
	t.nextID++
	token := t.nextID
	t.tokens[token] = p
	t.mu.Unlock()

	m := tg.NewMessage(t.chatID, renderMessage(p))
	m.ParseMode = tg.ModeHTML
	m.DisableWebPagePreview = true
	if len(p.Actions) > 0 {
		kb := actionKeyboard(token, p.Actions)
		m.BaseChat.ReplyMarkup = &kb
	}

	var sent tg.Message
	var err error
	robustExecute(t.retryAttempts, t.retryDelay, func() bool {
		sent, err = t.bot.Send(m)
		return err == nil
	})
	if err != nil {
		t.mu.Lock()
		delete(t.tokens, token)
		t.mu.Unlock()
		t.log.Errorw("failed sending notification", "tag", p.Tag, "err", err)
		return errors.Wrap(err, "failed sending notification")
	}

	t.mu.Lock()
	t.shown[p.Tag] = shownAlert{messageID: sent.MessageID, token: token}
	t.mu.Unlock()

	return nil
}

func (t *Telegram) Dismiss(_ context.Context, tag string) error {
	t.mu.Lock()
	alert, ok := t.shown[tag]
	if ok {
		delete(t.shown, tag)
		delete(t.tokens, alert.token)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := t.bot.Request(tg.NewDeleteMessage(t.chatID, alert.messageID)); err != nil {
		t.log.Warnw("failed deleting notification message", "tag", tag, "err", err)
		return errors.Wrap(err, "failed deleting notification message")
	}
	return nil
}

// Listen consumes bot updates and routes notification actions to the
// handler. Each action runs in its own goroutine; actions are not
// mutually exclusive with a concurrent scan. Listen returns when ctx is
// cancelled.
func (t *Telegram) Listen(ctx context.Context, handle func(ctx context.Context, action string, meta Metadata)) {
	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = 60

	updates := t.bot.GetUpdatesChan(uCfg)
	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.CallbackQuery == nil {
				continue
			}

			if _, err := t.bot.Request(tg.NewCallback(u.CallbackQuery.ID, "")); err != nil {
				t.log.Warnw("failed answering callback query", "err", err)
			}

			action, meta, ok := t.resolve(u.CallbackQuery.Data)
			if !ok {
				continue
			}
			go handle(ctx, action, meta)
		}
	}
}

// resolve decodes callback data of the form "<token>|<action>" back
// into the action identifier and the metadata attached at Show time.
func (t *Telegram) resolve(data string) (string, Metadata, bool) {
	tok, action, found := strings.Cut(data, "|")
	if !found {
		return "", Metadata{}, false
	}
	token, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return "", Metadata{}, false
	}

	t.mu.Lock()
	p, ok := t.tokens[token]
	t.mu.Unlock()
	if !ok {
		return "", Metadata{}, false
	}

	return action, p.Data, true
}

// renderMessage formats the alert text. Title and body are user input;
// unescaped markup makes Telegram reject the whole send as broken HTML.
func renderMessage(p Payload) string {
	return fmt.Sprintf("<b>%s</b>\n%s",
		tg.EscapeText(tg.ModeHTML, p.Title),
		tg.EscapeText(tg.ModeHTML, p.Body))
}

func actionKeyboard(token int64, actions []Action) tg.InlineKeyboardMarkup {
	rows := make([][]tg.InlineKeyboardButton, 0, (len(actions)+1)/2)
	for i := 0; i < len(actions); i += 2 {
		row := []tg.InlineKeyboardButton{actionButton(token, actions[i])}
		if i+1 < len(actions) {
			row = append(row, actionButton(token, actions[i+1]))
		}
		rows = append(rows, row)
	}
	return tg.NewInlineKeyboardMarkup(rows...)
}

func actionButton(token int64, a Action) tg.InlineKeyboardButton {
	data := strconv.FormatInt(token, 10) + "|" + a.ID
	return tg.NewInlineKeyboardButtonData(a.Label, data)
}

func robustExecute(n int, d time.Duration, f func() bool) bool {
	for i := 0; i < n; i++ {
		if f() {
			return true
		}
		time.Sleep(d)
	}
	return false
}
