package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/gateway"
	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/types"
)

const maxTelegramMessage = 4096

const helpText = `I'm SoulSync, a space to talk through how you're feeling.

Just send a message to begin. I'll remember what we talk about between sessions.

/start - begin a session
/end - finish the session and get a summary
/status - show the current session
/plan - a personal safety plan
/help - crisis resources

If you are in danger right now, please call your local emergency number.`

// sender is the part of the bot API the adapter needs to send messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	out      sender
	gateway  *gateway.Gateway
	events   types.EventStore
	detector *crisis.Detector
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, events types.EventStore, detector *crisis.Detector) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, events, detector)
	a.bot = bot
	return a, nil
}

func newAdapter(out sender, gw *gateway.Gateway, events types.EventStore, detector *crisis.Detector) *Adapter {
	if detector == nil {
		detector = crisis.MustNew()
	}
	return &Adapter{
		out:      out,
		gateway:  gw,
		events:   events,
		detector: detector,
	}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends message to the chat encoded in key. It is registered with
// the delivery registry for check-ins and crisis alerts.
func (a *Adapter) Deliver(_ context.Context, key types.SessionKey, message string) error {
	chatID, err := chatIDFromKey(key)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(message) {
		if _, err := a.out.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to %s: %w", key, err)
		}
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)
	event := &types.InboundEvent{
		Source:     "telegram",
		SessionKey: key,
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       msg.Text,
	}

	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(res gateway.Result) {
		if res.Err != nil {
			a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
			return
		}
		a.sendResponse(chatID, res.Response)
		if !res.Continue {
			a.endSession(ctx, chatID, key)
		}
	}))
	if err != nil {
		log.Error().Err(err).Str("session_key", string(key)).Msg("handle inbound error")
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) endSession(ctx context.Context, chatID int64, key types.SessionKey) {
	err := a.gateway.EndSession(ctx, key, gateway.WithOnComplete(func(res gateway.Result) {
		switch {
		case errors.Is(res.Err, session.ErrNoActiveSession):
			a.sendResponse(chatID, "There's no active session. Send a message to start one.")
		case res.Err != nil:
			a.sendResponse(chatID, "I couldn't save this session yet. Send /end to try again.")
		default:
			a.sendResponse(chatID, res.Response)
		}
	}))
	if err != nil {
		log.Error().Err(err).Str("session_key", string(key)).Msg("end session error")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		text := strings.TrimSpace(msg.CommandArguments())
		if text == "" {
			text = "I'd like to talk about how I'm feeling."
		}
		event := &types.InboundEvent{
			Source:     "telegram",
			SessionKey: key,
			UserID:     strconv.FormatInt(msg.From.ID, 10),
			Text:       text,
		}
		err := a.gateway.StartSession(ctx, event, gateway.WithOnComplete(func(res gateway.Result) {
			switch {
			case errors.Is(res.Err, session.ErrSessionActive):
				a.sendResponse(chatID, "A session is already in progress. Send /end to finish it.")
			case res.Err != nil:
				a.sendResponse(chatID, "Sorry, I couldn't start a session right now.")
			default:
				a.sendResponse(chatID, res.Response)
			}
		}))
		if err != nil {
			log.Error().Err(err).Str("session_key", string(key)).Msg("start session error")
		}

	case "end":
		a.endSession(ctx, chatID, key)

	case "status":
		a.sendResponse(chatID, a.status(ctx, key))

	case "help":
		a.sendResponse(chatID, helpText+"\n\n"+crisis.FormatResources(a.detector.EmergencyResources()))

	case "plan":
		a.sendResponse(chatID, crisis.FormatSafetyPlan(a.detector.CreateSafetyPlan()))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /end, /status, /help, /plan")
	}
}

func (a *Adapter) status(ctx context.Context, key types.SessionKey) string {
	snap := a.gateway.Snapshot(key)
	if snap == nil {
		return "No active session. Send a message to start one."
	}

	techniques := make([]string, 0, len(snap.TechniquesUsed))
	seen := make(map[types.Technique]bool)
	for _, t := range snap.TechniquesUsed {
		if !seen[t.Technique] {
			seen[t.Technique] = true
			techniques = append(techniques, string(t.Technique))
		}
	}
	if len(techniques) == 0 {
		techniques = append(techniques, "none yet")
	}

	var events int64
	if a.events != nil {
		n, err := a.events.Count(ctx, snap.ID)
		if err != nil {
			log.Warn().Err(err).Str("session", string(snap.ID)).Msg("count events failed")
		}
		events = n
	}

	return fmt.Sprintf("Session: %s\nMessages: %d\nJournal events: %d\nTechniques: %s\nHighest crisis level: %d",
		snap.ID, len(snap.Messages), events, strings.Join(techniques, ", "), snap.MaxCrisisLevel())
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				log.Error().Err(err).Int64("chat_id", chatID).Msg("send message error")
			}
		}
	}
}

// splitMessage cuts text into chunks of at most maxTelegramMessage runes.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		end := maxTelegramMessage
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey extracts the chat id from "telegram:<user>:<chat>" or
// "telegram:<chat>".
func chatIDFromKey(key types.SessionKey) (int64, error) {
	parts := strings.Split(string(key), ":")
	if len(parts) < 2 || parts[0] != "telegram" {
		return 0, fmt.Errorf("not a telegram session key: %s", key)
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id in %s: %w", key, err)
	}
	return id, nil
}
