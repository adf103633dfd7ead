package formatter

import (
	"encoding/json"
	"strconv"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/mailchat/pkg/models"
)

// BuildNotificationKeyboard creates an inline keyboard for a delivered summary.
// Buttons resolve their ledger record from the message they are attached to.
func BuildNotificationKeyboard(codes []appmodels.DetectedCode) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	// Code buttons
	if len(codes) > 0 {
		var codeButtons []models.InlineKeyboardButton
		for i, code := range codes {
			codeButtons = append(codeButtons, models.InlineKeyboardButton{
				Text: code.Value,
				CallbackData: EncodeCallback(appmodels.CallbackData{
					Action:  appmodels.CallbackCopyCode,
					CodeIdx: i,
				}),
			})
		}
		// Split into rows of 2 buttons each
		for i := 0; i < len(codeButtons); i += 2 {
			end := min(i+2, len(codeButtons))
			rows = append(rows, codeButtons[i:end])
		}
	}

	rows = append(rows, []models.InlineKeyboardButton{{
		Text:         "Original",
		CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackShowOriginal}),
	}})

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// BuildHistoryKeyboard creates one "Original" button per history record
func BuildHistoryKeyboard(records []*appmodels.ProcessedEmail) *models.InlineKeyboardMarkup {
	if len(records) == 0 {
		return nil
	}

	var row []models.InlineKeyboardButton
	var rows [][]models.InlineKeyboardButton
	for i, rec := range records {
		row = append(row, models.InlineKeyboardButton{
			Text: "📄 " + strconv.Itoa(i+1),
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:   appmodels.CallbackShowOriginal,
				RecordID: rec.ID,
			}),
		})
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
