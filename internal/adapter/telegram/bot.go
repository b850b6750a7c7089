package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

const replyTimeout = 10 * time.Second

// Bot long-polls Telegram and answers every text message through a Responder
type Bot struct {
	b         *telebot.Bot
	responder *Responder
	log       *zap.Logger
	base      context.Context
}

// NewBot connects to the Bot API with the given token
func NewBot(token string, responder *Responder, log *zap.Logger) (*Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			log.Error("telegram handler error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	bot := &Bot{b: b, responder: responder, log: log, base: context.Background()}
	b.Handle(telebot.OnText, bot.handleText)
	return bot, nil
}

func (bot *Bot) handleText(c telebot.Context) error {
	if c.Sender() == nil {
		return nil
	}
	ctx, cancel := bot.replyContext()
	defer cancel()

	userID := strconv.FormatInt(c.Sender().ID, 10)
	return c.Send(bot.responder.Handle(ctx, userID, c.Text()))
}

// replyContext bounds one reply and ends with the context given to Run
func (bot *Bot) replyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(bot.base, replyTimeout)
}

// Run polls until ctx is done
func (bot *Bot) Run(ctx context.Context) {
	bot.base = ctx
	go func() {
		<-ctx.Done()
		bot.b.Stop()
	}()
	bot.log.Info("telegram bot started", zap.String("username", bot.b.Me.Username))
	bot.b.Start()
	bot.log.Info("telegram bot stopped")
}
