package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailchat/pkg/models"
)

func TestFormatNotificationEscapes(t *testing.T) {
	f := NewTelegramFormatter()
	text := f.FormatNotification(models.Notification{
		Sender:  "Bob <bob@example.com>",
		Subject: "Q&A",
		Summary: "Use <b> tags",
		Codes:   []models.DetectedCode{{Type: "otp", Value: "482913"}},
	})

	assert.Contains(t, text, "Bob &lt;bob@example.com&gt;")
	assert.Contains(t, text, "Q&amp;A")
	assert.Contains(t, text, "Use &lt;b&gt; tags")
	assert.Contains(t, text, "<code>482913</code>")
}

func TestFormatHistory(t *testing.T) {
	f := NewTelegramFormatter()
	assert.Equal(t, "No emails processed yet.", f.FormatHistory(nil))

	text := f.FormatHistory([]*models.ProcessedEmail{
		{ID: 2, Subject: "Second", Sender: "b@example.com", Summary: "two", ProcessedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)},
		{ID: 1, Subject: "First", Sender: "a@example.com", Summary: "one", ProcessedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	})
	assert.Contains(t, text, "Last 2 emails")
	assert.Less(t, strings.Index(text, "Second"), strings.Index(text, "First"))
}

// entitiesIntact reports whether every & in text starts a complete entity
func entitiesIntact(text string) bool {
	for _, entity := range []string{"&amp;", "&lt;", "&gt;", "&#34;", "&#39;"} {
		text = strings.ReplaceAll(text, entity, "")
	}
	return !strings.Contains(text, "&")
}

func TestFormatLongEscapedText(t *testing.T) {
	f := NewTelegramFormatter()
	heavy := strings.Repeat("R&D <x> ", 2000)

	texts := map[string]string{
		"notification": f.FormatNotification(models.Notification{
			Sender:  heavy,
			Subject: heavy,
			Summary: heavy,
			Codes:   []models.DetectedCode{{Type: "otp", Value: "482913"}},
		}),
		"original": f.FormatOriginal(&models.ProcessedEmail{Sender: "a@example.com", Subject: "R&D", OriginalBody: heavy}),
		"draft":    f.FormatDraft("a@example.com", "R&D", heavy),
	}

	var records []*models.ProcessedEmail
	for i := 0; i < 50; i++ {
		records = append(records, &models.ProcessedEmail{Subject: heavy, Sender: heavy, Summary: heavy})
	}
	texts["history"] = f.FormatHistory(records)

	for name, text := range texts {
		t.Run(name, func(t *testing.T) {
			assert.LessOrEqual(t, textLength(text), 4096)
			assert.True(t, entitiesIntact(text), "entity split in %q", text[len(text)-40:])
		})
	}

	assert.Contains(t, texts["notification"], "<code>482913</code>")
	assert.True(t, strings.HasSuffix(texts["draft"], "Send it with /send."))
	assert.True(t, strings.HasSuffix(texts["history"], "…"))
	assert.NotContains(t, texts["history"], "Last 50 emails")
}

func TestEscapeTruncate(t *testing.T) {
	assert.Equal(t, "a&amp;b", escapeTruncate("a&b", 10))
	// "a&amp;" is 6 units; the ellipsis needs one more
	assert.Equal(t, "a…", escapeTruncate("a&b", 6))
	assert.Equal(t, "a&amp;…", escapeTruncate("a&bc", 7))
	assert.Empty(t, escapeTruncate("anything", 0))
}

func TestFormatStatus(t *testing.T) {
	f := NewTelegramFormatter()
	assert.Contains(t, f.FormatStatus(nil), "/setup")

	address := "a@example.com"
	pollErr := "invalid credentials"
	text := f.FormatStatus(&models.Account{
		EmailAddress: &address,
		IsVerified:   true,
		PollStatus:   models.PollStatusAuthFailed,
		PollError:    &pollErr,
	})
	assert.Contains(t, text, "a@example.com")
	assert.Contains(t, text, "authentication failed")
	assert.Contains(t, text, "invalid credentials")
}

func TestNotificationKeyboard(t *testing.T) {
	kb := BuildNotificationKeyboard([]models.DetectedCode{{Value: "111111"}, {Value: "222222"}, {Value: "333333"}})
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Len(t, kb.InlineKeyboard[0], 2)
	assert.Len(t, kb.InlineKeyboard[1], 1)

	cb, err := DecodeCallback(kb.InlineKeyboard[1][0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, models.CallbackCopyCode, cb.Action)
	assert.Equal(t, 2, cb.CodeIdx)

	last := kb.InlineKeyboard[2][0]
	assert.Equal(t, "Original", last.Text)
	cb, err = DecodeCallback(last.CallbackData)
	require.NoError(t, err)
	assert.Equal(t, models.CallbackShowOriginal, cb.Action)
	assert.Zero(t, cb.RecordID)
	assert.LessOrEqual(t, len(last.CallbackData), 64)
}

func TestHistoryKeyboard(t *testing.T) {
	assert.Nil(t, BuildHistoryKeyboard(nil))

	var records []*models.ProcessedEmail
	for i := int64(1); i <= 6; i++ {
		records = append(records, &models.ProcessedEmail{ID: i * 1000})
	}
	kb := BuildHistoryKeyboard(records)
	require.Len(t, kb.InlineKeyboard, 2)

	cb, err := DecodeCallback(kb.InlineKeyboard[1][0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), cb.RecordID)
}
