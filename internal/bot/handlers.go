package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/voice-bot/internal/assistant"
	"github.com/xaenox/voice-bot/internal/namegen"
	"github.com/xaenox/voice-bot/internal/repository"
	"github.com/xaenox/voice-bot/internal/session"
	"github.com/xaenox/voice-bot/internal/storage"
	"go.uber.org/zap"
)

const (
	helpText = `Commands:
/start - choose or add an assistant
/mental - take the temperament interview
/profile - show your profile
/help - show this message`

	voiceCaption = "You can continue the conversation by sending another voice message"
)

// turn is the handling of a single update.
type turn struct {
	*Bot
	repo   *repository.UserRepository
	chatID int64
	userID int64
	names  *namegen.Generator
	logger *zap.Logger
}

func (t *turn) reply(text string) {
	t.sendMessage(t.chatID, text)
}

func (t *turn) onMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.IsCommand() {
		return t.onCommand(ctx, msg)
	}

	sess := t.sessions.Get(t.chatID)
	switch sess.Current() {
	case session.StateNamingAssistant:
		return t.onAssistantName(ctx, msg)
	case session.StateInConversation:
		return t.onVoiceRequest(ctx, msg, sess)
	case session.StateMentalInterview:
		return t.onInterviewAnswer(ctx, msg, sess)
	default:
		t.reply("Send /start to choose an assistant or /mental to take the interview.")
		return nil
	}
}

func (t *turn) onCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return t.handleStart(ctx)
	case "mental":
		return t.handleMental(ctx)
	case "profile":
		return t.handleProfile(ctx)
	case "help":
		t.reply(helpText)
		return nil
	default:
		t.reply("Unknown command. Send /help to see what I can do.")
		return nil
	}
}

func (t *turn) handleStart(ctx context.Context) error {
	t.sessions.Clear(t.chatID)

	created, err := t.repo.UpsertUser(ctx, t.userID)
	if err != nil {
		return err
	}
	user, err := t.repo.ByID(ctx, created.ID)
	if err != nil {
		return err
	}

	t.sendMenu(t.chatID, user)
	return nil
}

func (t *turn) handleProfile(ctx context.Context) error {
	t.sessions.Clear(t.chatID)

	user, err := t.repo.ByTgIDUnsafe(ctx, t.userID)
	if err != nil {
		return err
	}
	if user == nil || user.Mental == nil {
		t.reply("You don't have a profile yet. Send /start first, then take the interview with /mental.")
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, renderProfile(*user.Mental))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	t.send(msg, t.chatID, "profile")
	return nil
}

func (t *turn) handleMental(ctx context.Context) error {
	t.sessions.Clear(t.chatID)

	assistantID, err := t.interviewer.ID(ctx)
	if err != nil {
		return fmt.Errorf("interview assistant: %w", err)
	}
	threadID, err := t.responder.NewThread(ctx)
	if err != nil {
		return err
	}

	sess := session.Session{
		State:       session.StateMentalInterview,
		AssistantID: assistantID,
		ThreadID:    threadID,
	}
	t.sessions.Set(t.chatID, sess)
	t.logger.Info("Mental interview started", zap.String("thread_id", threadID))

	// Empty request: the assistant opens the interview itself.
	return t.interview(ctx, sess, "")
}

func (t *turn) onCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if _, err := t.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		t.logger.Warn("Failed to answer callback", zap.Error(err))
	}

	if cb.Data == callbackAddAssistant {
		t.sessions.Set(t.chatID, session.Session{State: session.StateNamingAssistant})
		t.editMessage(cb.Message, "Write me the name of your future assistant:")
		return nil
	}

	id, ok := parseAssistantChoice(cb.Data)
	if !ok {
		t.logger.Warn("Unknown callback", zap.String("data", cb.Data))
		return nil
	}
	return t.selectAssistant(ctx, cb.Message, id)
}

func (t *turn) selectAssistant(ctx context.Context, menu *tgbotapi.Message, assistantID string) error {
	user, err := t.repo.ByTgIDUnsafe(ctx, t.userID)
	if err != nil {
		return err
	}
	if user == nil || !user.HasAssistant(assistantID) {
		t.reply("This assistant is not available anymore. Send /start to see your assistants.")
		return nil
	}

	sess := t.sessions.Get(t.chatID)
	threadID := ""
	if sess.Current() == session.StateInConversation {
		threadID = sess.ThreadID
	}
	if threadID == "" {
		if threadID, err = t.responder.NewThread(ctx); err != nil {
			return err
		}
	}

	t.sessions.Set(t.chatID, session.Session{
		State:       session.StateInConversation,
		AssistantID: assistantID,
		ThreadID:    threadID,
	})
	t.editMessage(menu, "Send me your voice message with your cool request:")
	return nil
}

func (t *turn) onAssistantName(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.Text)
	if name == "" {
		t.reply("Please send the name as a text message.")
		return nil
	}

	user, err := t.repo.ByTgID(ctx, t.userID)
	if err != nil {
		return err
	}

	assistantID, err := t.responder.NewAssistant(ctx, name, t.instructions)
	if err != nil {
		return err
	}
	user, err = t.repo.AddAssistant(ctx, user.ID, assistantID, name)
	if err != nil {
		return err
	}
	t.logger.Info("Assistant created",
		zap.String("assistant_id", assistantID),
		zap.String("name", name))

	t.sessions.Clear(t.chatID)
	t.sendMenu(t.chatID, user)
	return nil
}

func (t *turn) onVoiceRequest(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	if msg.Voice == nil {
		t.reply("It's not a voice message")
		return nil
	}

	if sess.ThreadID == "" {
		threadID, err := t.responder.NewThread(ctx)
		if err != nil {
			return err
		}
		sess = t.sessions.Update(t.chatID, func(s *session.Session) { s.ThreadID = threadID })
	}

	audio, err := t.download(ctx, msg.Voice.FileID)
	if err != nil {
		return err
	}

	names := t.names.Func()
	text, err := t.transcriber.Transcribe(ctx, audio, names)
	if err != nil {
		return err
	}

	response, err := t.responder.Respond(ctx, assistant.Turn{
		ThreadID:    sess.ThreadID,
		AssistantID: sess.AssistantID,
		Request:     text,
	})
	if err != nil {
		return err
	}

	file, err := t.synthesizer.Synthesize(ctx, response, names)
	if err != nil {
		return err
	}

	voice := tgbotapi.NewVoice(t.chatID, tgbotapi.FileBytes{Name: file.Name, Bytes: file.Data})
	voice.Caption = voiceCaption
	t.send(voice, t.chatID, "voice")
	return nil
}

func (t *turn) onInterviewAnswer(ctx context.Context, msg *tgbotapi.Message, sess session.Session) error {
	answer := strings.TrimSpace(msg.Text)
	if msg.Voice != nil {
		audio, err := t.download(ctx, msg.Voice.FileID)
		if err != nil {
			return err
		}
		if answer, err = t.transcriber.Transcribe(ctx, audio, t.names.Func()); err != nil {
			return err
		}
	}
	if answer == "" {
		t.reply("Answer with a voice or text message.")
		return nil
	}
	return t.interview(ctx, sess, answer)
}

// interview runs one interview step. A plain reply is forwarded to the user;
// a save_mental_profile call ends the interview.
func (t *turn) interview(ctx context.Context, sess session.Session, answer string) error {
	res, err := t.responder.RespondWithContext(ctx, assistant.Turn{
		ThreadID:    sess.ThreadID,
		AssistantID: sess.AssistantID,
		Request:     answer,
	})
	if err != nil {
		return err
	}

	if res.Action == nil {
		if strings.TrimSpace(res.Text) == "" {
			return fmt.Errorf("interview reply: %w", assistant.ErrNoResult)
		}
		t.reply(res.Text)
		return nil
	}
	if res.Action.Name != saveMentalFunctionName {
		return fmt.Errorf("unexpected function %q: %w", res.Action.Name, assistant.ErrNoResult)
	}

	return t.finishInterview(ctx, res.Action.Arguments)
}

func (t *turn) finishInterview(ctx context.Context, arguments string) error {
	confirmed, err := t.confirmer.Confirm(ctx, arguments, mentalFormatRule)
	if err != nil {
		return err
	}

	t.sessions.Clear(t.chatID)

	mental, perr := parseMental(arguments)
	if !confirmed || perr != nil {
		t.logger.Info("Interview result rejected",
			zap.Bool("confirmed", confirmed),
			zap.NamedError("parse_error", perr),
			zap.String("arguments", arguments))
		t.reply("I couldn't figure out your profile. Send /mental to try again.")
		return nil
	}

	user, err := t.repo.ByTgID(ctx, t.userID)
	if errors.Is(err, storage.ErrNotFound) {
		created, cerr := t.repo.UpsertUser(ctx, t.userID)
		if cerr != nil {
			return cerr
		}
		user = created
	} else if err != nil {
		return err
	}

	user, err = t.repo.UpsertMental(ctx, user.ID, mental)
	if err != nil {
		return err
	}
	t.logger.Info("Profile saved",
		zap.String("temperament", string(user.Mental.Temperament)),
		zap.String("profession", user.Mental.Profession))

	msg := tgbotapi.NewMessage(t.chatID, "Thanks\\! "+renderProfile(*user.Mental))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	t.send(msg, t.chatID, "profile")
	return nil
}

func (t *turn) editMessage(msg *tgbotapi.Message, text string) {
	if msg == nil {
		t.reply(text)
		return
	}
	t.send(tgbotapi.NewEditMessageText(t.chatID, msg.MessageID, text), t.chatID, "edit")
}
