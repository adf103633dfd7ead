package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mixelka/mailchat/pkg/models"
)

// Sender submits outgoing mail through the account's own SMTP server
type Sender struct {
	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewSender creates a new SMTP sender
func NewSender(dialTimeout time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		dialTimeout: dialTimeout,
		logger:      logger.With("component", "smtp"),
	}
}

// Send mails a plain text message from the account's address to "to".
// Port 465 uses implicit TLS, everything else STARTTLS.
func (s *Sender) Send(ctx context.Context, creds models.Credentials, to, subject, body string) error {
	msg, err := ComposeMessage(creds.Address, to, subject, body, time.Now())
	if err != nil {
		return err
	}

	c, err := s.dial(ctx, creds)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", creds.Address, creds.Secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	if err := c.SendMail(creds.Address, []string{to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", "error", err)
	}

	s.logger.Info("mail sent", "from", creds.Address, "to", to)
	return nil
}

func (s *Sender) dial(ctx context.Context, creds models.Credentials) (*smtp.Client, error) {
	timeout := s.dialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	addr := net.JoinHostPort(creds.SMTPHost, strconv.Itoa(creds.SMTPPort))
	tlsConfig := &tls.Config{ServerName: creds.SMTPHost}
	netDialer := &net.Dialer{Timeout: timeout}

	if creds.SMTPPort == 465 {
		conn, err := (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to connect: %v", ErrNetwork, err)
		}
		return smtp.NewClient(conn), nil
	}

	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %v", ErrNetwork, err)
	}
	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to start TLS: %v", ErrNetwork, err)
	}
	return c, nil
}

// ComposeMessage renders a single-part text/plain RFC 5322 message
func ComposeMessage(from, to, subject, body string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}
