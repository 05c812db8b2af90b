// Package telegram connects the bot to Telegram via long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	"github.com/Klingon-tech/klingnet-bot/internal/bot"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 60

const msgBusy = "⏳ Still working on your earlier messages, please wait a moment."

// Sender is the part of tgbotapi.BotAPI used to deliver replies.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Adapter receives Telegram updates and delivers bot results.
type Adapter struct {
	api         *tgbotapi.BotAPI
	sender      Sender
	pollTimeout int
	logger      zerolog.Logger
}

// New authenticates with the Bot API. pollTimeout <= 0 selects
// DefaultPollTimeout.
func New(token string, pollTimeout int) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	a := &Adapter{
		api:         api,
		sender:      api,
		pollTimeout: pollTimeout,
		logger:      klog.Telegram,
	}
	a.logger.Info().Str("bot", api.Self.UserName).Msg("Telegram bot authorized")
	return a, nil
}

// Run polls for updates and hands each one to submit until ctx ends.
func (a *Adapter) Run(ctx context.Context, submit func(bot.Event) error) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.pollTimeout
	updates := a.api.GetUpdatesChan(u)
	defer a.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := EventFromUpdate(upd)
			if !ok {
				a.ackIgnored(upd)
				continue
			}
			if err := submit(ev); err != nil {
				a.rejected(ev, err)
			}
		}
	}
}

func (a *Adapter) rejected(ev bot.Event, err error) {
	a.logger.Warn().Err(err).
		Str("event_id", ev.ID.String()).
		Str("identity", account.Fingerprint(ev.Identity)).
		Msg("Event not queued")
	if errors.Is(err, bot.ErrQueueFull) {
		a.Deliver(ev, &bot.Result{Status: bot.StatusError, Message: msgBusy})
	}
}

// ackIgnored answers button presses that map to no event, so the client
// stops showing a spinner.
func (a *Adapter) ackIgnored(upd tgbotapi.Update) {
	if upd.CallbackQuery == nil {
		return
	}
	if _, err := a.sender.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, "")); err != nil {
		a.logger.Debug().Err(err).Msg("Callback ack failed")
	}
}

// Deliver sends res to the chat ev came from and acknowledges ev's button
// press if it had one.
func (a *Adapter) Deliver(ev bot.Event, res *bot.Result) error {
	if ev.CallbackID != "" {
		if _, err := a.sender.Request(tgbotapi.NewCallback(ev.CallbackID, "")); err != nil {
			a.logger.Debug().Err(err).Msg("Callback ack failed")
		}
	}

	chatID, err := strconv.ParseInt(ev.Identity, 10, 64)
	if err != nil {
		return fmt.Errorf("identity %q is not a chat id: %w", ev.Identity, err)
	}
	if _, err := a.sender.Send(buildMessage(chatID, res)); err != nil {
		a.logger.Warn().Err(err).
			Str("event_id", ev.ID.String()).
			Str("identity", account.Fingerprint(ev.Identity)).
			Msg("Reply delivery failed")
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func buildMessage(chatID int64, res *bot.Result) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, res.Message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(res.Keyboard) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(res.Keyboard))
		for _, row := range res.Keyboard {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return msg
}

// EventFromUpdate maps a Telegram update to a bot event. It returns false
// for updates the bot does not handle.
func EventFromUpdate(upd tgbotapi.Update) (bot.Event, bool) {
	switch {
	case upd.Message != nil && upd.Message.Chat != nil:
		return fromMessage(upd.Message), true
	case upd.CallbackQuery != nil:
		return fromCallback(upd.CallbackQuery)
	default:
		return bot.Event{}, false
	}
}

func fromMessage(m *tgbotapi.Message) bot.Event {
	identity := strconv.FormatInt(m.Chat.ID, 10)
	kind, payload := bot.KindFollowup, m.Text
	if m.IsCommand() {
		switch m.Command() {
		case "start":
			kind, payload = bot.KindStart, ""
		case "balance":
			kind, payload = bot.KindBalance, ""
		case "trade":
			kind, payload = bot.KindTradeQuery, m.CommandArguments()
		case "withdraw":
			kind, payload = bot.KindWithdrawIntent, ""
		case "cancel":
			kind, payload = bot.KindCancel, ""
		case "help":
			kind, payload = bot.KindHelp, ""
		}
	}
	ev := bot.NewEvent(identity, kind, bot.SourceMessage, strings.TrimSpace(payload), m.Text)
	if m.Time().Unix() > 0 {
		ev.ReceivedAt = m.Time()
	}
	return ev
}

func fromCallback(cq *tgbotapi.CallbackQuery) (bot.Event, bool) {
	var chatID int64
	switch {
	case cq.Message != nil && cq.Message.Chat != nil:
		chatID = cq.Message.Chat.ID
	case cq.From != nil:
		chatID = cq.From.ID
	default:
		return bot.Event{}, false
	}
	identity := strconv.FormatInt(chatID, 10)

	var (
		kind    bot.Kind
		payload string
	)
	switch {
	case cq.Data == bot.CallbackCancel:
		kind = bot.KindCancel
	case cq.Data == bot.CallbackWithdraw:
		kind = bot.KindWithdrawIntent
	case strings.HasPrefix(cq.Data, bot.CallbackBuyPrefix):
		amount, contract, found := strings.Cut(strings.TrimPrefix(cq.Data, bot.CallbackBuyPrefix), "_")
		if !found {
			return bot.Event{}, false
		}
		kind, payload = bot.KindBuyIntent, amount+" "+contract
	default:
		return bot.Event{}, false
	}

	ev := bot.NewEvent(identity, kind, bot.SourceCallback, payload, "")
	ev.CallbackID = cq.ID
	return ev, true
}
