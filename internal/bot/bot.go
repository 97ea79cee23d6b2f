package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/voice-bot/internal/assistant"
	"github.com/xaenox/voice-bot/internal/classifier"
	"github.com/xaenox/voice-bot/internal/namegen"
	"github.com/xaenox/voice-bot/internal/repository"
	"github.com/xaenox/voice-bot/internal/session"
	"github.com/xaenox/voice-bot/internal/speech"
	"github.com/xaenox/voice-bot/internal/storage"
	"go.uber.org/zap"
)

// ErrEmptyAttachment is returned when a voice download yields no data.
var ErrEmptyAttachment = errors.New("attachment is empty")

// TelegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Responder interface {
	NewAssistant(ctx context.Context, name, instructions string, functions ...openai.FunctionDefinition) (string, error)
	NewThread(ctx context.Context) (string, error)
	Respond(ctx context.Context, turn assistant.Turn) (string, error)
	RespondWithContext(ctx context.Context, turn assistant.Turn) (assistant.Result, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, name namegen.Func) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, name namegen.Func) (speech.File, error)
}

type Deps struct {
	API         TelegramAPI
	DB          storage.Database
	Sessions    *session.Store
	Responder   Responder
	Transcriber Transcriber
	Synthesizer Synthesizer
	Confirmer   classifier.Confirmer
	HTTPClient  *http.Client
	Logger      *zap.Logger

	// Instructions are given to every assistant users create.
	Instructions string
	// MentalAssistantID reuses an existing interview assistant instead of
	// creating one on the first /mental.
	MentalAssistantID string
}

type Bot struct {
	api         TelegramAPI
	db          storage.Database
	sessions    *session.Store
	responder   Responder
	transcriber Transcriber
	synthesizer Synthesizer
	confirmer   classifier.Confirmer
	httpClient  *http.Client
	logger      *zap.Logger

	instructions string
	interviewer  *assistant.Lazy

	wg sync.WaitGroup
}

func New(deps Deps) *Bot {
	b := &Bot{
		api:          deps.API,
		db:           deps.DB,
		sessions:     deps.Sessions,
		responder:    deps.Responder,
		transcriber:  deps.Transcriber,
		synthesizer:  deps.Synthesizer,
		confirmer:    deps.Confirmer,
		httpClient:   deps.HTTPClient,
		logger:       deps.Logger,
		instructions: deps.Instructions,
	}
	if b.sessions == nil {
		b.sessions = session.NewStore()
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: time.Minute}
	}
	if b.instructions == "" {
		b.instructions = defaultInstructions
	}
	b.interviewer = assistant.NewLazy(deps.MentalAssistantID, func(ctx context.Context) (string, error) {
		return b.responder.NewAssistant(ctx, interviewerName, interviewerInstructions, saveMentalFunction)
	})
	return b
}

// Run handles updates until ctx is done or the channel is closed, then waits
// for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil && update.CallbackQuery == nil {
				continue
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func updateChat(update tgbotapi.Update) (chatID, userID int64, ok bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil && update.Message.From != nil:
		return update.Message.Chat.ID, update.Message.From.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil &&
		update.CallbackQuery.Message.Chat != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.Message.Chat.ID, update.CallbackQuery.From.ID, true
	}
	return 0, 0, false
}

// handleUpdate runs one update with the chat locked and a fresh storage
// scope. Handler errors are logged and reported to the user; they never stop
// the bot.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	chatID, userID, ok := updateChat(update)
	if !ok {
		return
	}

	unlock := b.sessions.Lock(chatID)
	defer unlock()

	logger := b.logger.With(
		zap.Int("update_id", update.UpdateID),
		zap.String("trace_id", uuid.NewString()),
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
	)
	state := b.sessions.Get(chatID).Current()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Handler panicked",
				zap.Any("panic", p),
				zap.String("state", string(state)),
				zap.Stack("stack"))
			b.sendErrorMessage(chatID, "Sorry, something went wrong. Please try again.")
		}
	}()

	err := b.db.WithGateway(ctx, func(gw storage.Gateway) error {
		t := &turn{
			Bot:    b,
			repo:   repository.NewUserRepository(gw),
			chatID: chatID,
			userID: userID,
			names:  namegen.New(userID),
			logger: logger,
		}
		if update.Message != nil {
			return t.onMessage(ctx, update.Message)
		}
		return t.onCallback(ctx, update.CallbackQuery)
	})
	if err != nil {
		logger.Error("Failed to handle update",
			zap.Error(err),
			zap.String("state", string(state)))
		b.sendErrorMessage(chatID, "Sorry, something went wrong. Please try again.")
	}
}

// download fetches a Telegram file into memory.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	link, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file %s: status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", fileID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrEmptyAttachment)
	}
	return data, nil
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) send(c tgbotapi.Chattable, chatID int64, what string) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("Failed to send "+what,
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text), chatID, "message")
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text), chatID, "error message")
}
