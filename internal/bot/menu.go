package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/voice-bot/internal/models"
)

const (
	menuText = "Please, choose your assistant:"

	callbackAddAssistant    = "add_assistant"
	callbackAssistantPrefix = "assistant:"

	menuColumns = 3
)

// assistantMenu lays out one button per assistant followed by "+ Add",
// menuColumns buttons per row.
func assistantMenu(user models.User) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(user.Assistants)+1)
	for _, a := range user.Assistants {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Name, callbackAssistantPrefix+a.OpenAIID))
	}
	buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("+ Add", callbackAddAssistant))

	var rows [][]tgbotapi.InlineKeyboardButton
	for len(buttons) > 0 {
		n := min(menuColumns, len(buttons))
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) sendMenu(chatID int64, user models.User) {
	msg := tgbotapi.NewMessage(chatID, menuText)
	msg.ReplyMarkup = assistantMenu(user)
	b.send(msg, chatID, "menu")
}

// parseAssistantChoice extracts the assistant id from menu callback data.
func parseAssistantChoice(data string) (string, bool) {
	id, ok := strings.CutPrefix(data, callbackAssistantPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
