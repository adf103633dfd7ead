package formatter

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mixelka/mailchat/pkg/models"
)

// Caps for header fields so a hostile subject cannot eat the whole message
const (
	maxSenderLength  = 256
	maxSubjectLength = 512
)

// TelegramFormatter renders chat messages in Telegram HTML
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Telegram allows 4096
	}
}

// FormatNotification renders the summary of one email
func (f *TelegramFormatter) FormatNotification(note models.Notification) string {
	var header, codes strings.Builder

	header.WriteString(fmt.Sprintf("📧 <b>%s</b>\n", escapeTruncate(note.Sender, maxSenderLength)))
	header.WriteString(fmt.Sprintf("<i>%s</i>\n\n", escapeTruncate(note.Subject, maxSubjectLength)))

	if len(note.Codes) > 0 {
		codes.WriteString("\n\n<b>Codes:</b> ")
		for i, code := range note.Codes {
			if i > 0 {
				codes.WriteString(" ")
			}
			codes.WriteString(fmt.Sprintf("<code>%s</code>", escapeTruncate(code.Value, 64)))
		}
	}

	budget := f.maxLength - textLength(header.String()) - textLength(codes.String())
	return header.String() + escapeTruncate(note.Summary, budget) + codes.String()
}

// FormatOriginal renders the stored body of a processed email
func (f *TelegramFormatter) FormatOriginal(rec *models.ProcessedEmail) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>From:</b> %s\n", escapeTruncate(rec.Sender, maxSenderLength)))
	sb.WriteString(fmt.Sprintf("<b>Subject:</b> %s\n\n", escapeTruncate(rec.Subject, maxSubjectLength)))
	sb.WriteString(escapeTruncate(rec.OriginalBody, f.maxLength-textLength(sb.String())))

	return sb.String()
}

// FormatHistory renders recent ledger records, newest first. Records that
// do not fit are left out whole.
func (f *TelegramFormatter) FormatHistory(records []*models.ProcessedEmail) string {
	if len(records) == 0 {
		return "No emails processed yet."
	}

	const more = "\n…"
	var body strings.Builder
	shown := 0
	for i, rec := range records {
		entry := fmt.Sprintf("\n%d. <b>%s</b> (%s)\n   From: %s\n   %s\n",
			i+1,
			escapeTruncate(rec.Subject, 200),
			rec.ProcessedAt.Format("2006-01-02 15:04"),
			escapeTruncate(rec.Sender, 200),
			escapeTruncate(rec.Summary, 200))
		if textLength(body.String())+textLength(entry)+100 > f.maxLength {
			break
		}
		body.WriteString(entry)
		shown++
	}

	title := fmt.Sprintf("📬 <b>Last %d emails</b>\n", shown)
	if shown < len(records) {
		return title + body.String() + more
	}
	return title + body.String()
}

// FormatStatus renders verification and polling state of an account
func (f *TelegramFormatter) FormatStatus(account *models.Account) string {
	if account == nil || account.EmailAddress == nil {
		return "📭 No mailbox connected. Use /setup to link one."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📧 <b>Mailbox:</b> %s\n", escape(*account.EmailAddress)))

	switch {
	case account.IsVerified:
		sb.WriteString("✅ <b>Verified:</b> yes\n")
	case account.HasPendingCode():
		sb.WriteString("⏳ <b>Verified:</b> waiting for code, see /verify\n")
	default:
		sb.WriteString("❌ <b>Verified:</b> no\n")
	}

	sb.WriteString(fmt.Sprintf("<b>Polling:</b> %s\n", describePollStatus(account.PollStatus)))
	if account.LastPolledAt != nil {
		sb.WriteString(fmt.Sprintf("<b>Last check:</b> %s\n", account.LastPolledAt.Format(time.DateTime)))
	}
	if account.PollError != nil && *account.PollError != "" {
		sb.WriteString(fmt.Sprintf("<b>Last error:</b> <code>%s</code>\n", escapeTruncate(*account.PollError, 300)))
	}
	if account.PollStatus == models.PollStatusAuthFailed {
		sb.WriteString("\nThe mailbox rejected your credentials. Send new ones with /setup.")
	}

	return sb.String()
}

// FormatDraft renders an outgoing email awaiting /send
func (f *TelegramFormatter) FormatDraft(to, subject, body string) string {
	var sb strings.Builder

	const footer = "\n\nSend it with /send."

	sb.WriteString("📝 <b>Draft</b>\n\n")
	sb.WriteString(fmt.Sprintf("<b>To:</b> %s\n", escapeTruncate(to, maxSenderLength)))
	sb.WriteString(fmt.Sprintf("<b>Subject:</b> %s\n\n", escapeTruncate(subject, maxSubjectLength)))
	sb.WriteString(escapeTruncate(body, f.maxLength-textLength(sb.String())-textLength(footer)))
	sb.WriteString(footer)

	return sb.String()
}

func describePollStatus(status string) string {
	switch status {
	case models.PollStatusOK:
		return "ok"
	case models.PollStatusAuthFailed:
		return "⚠️ authentication failed"
	case models.PollStatusNetworkError:
		return "⚠️ mailbox unreachable, retrying"
	case models.PollStatusPartial:
		return "⚠️ some emails will be retried"
	default:
		return "not checked yet"
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}

// escapeTruncate escapes s and cuts it to maxLen UTF-16 units of escaped
// text, the unit Telegram counts in. Entities are never split.
func escapeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	escaped := escape(s)
	if textLength(escaped) <= maxLen {
		return escaped
	}

	var sb strings.Builder
	n := 0
	for _, r := range s {
		e := escape(string(r))
		w := textLength(e)
		if n+w > maxLen-1 {
			break
		}
		sb.WriteString(e)
		n += w
	}
	sb.WriteString("…")
	return sb.String()
}

func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
