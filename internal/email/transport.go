package email

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mixelka/mailchat/internal/parser"
	"github.com/mixelka/mailchat/pkg/models"
)

// Transport opens mailbox sessions from stored credentials
type Transport struct {
	dialTimeout time.Duration
	htmlParser  *parser.HTMLParser
	logger      *slog.Logger
}

// NewTransport creates a new IMAP transport
func NewTransport(dialTimeout time.Duration, htmlParser *parser.HTMLParser, logger *slog.Logger) *Transport {
	return &Transport{
		dialTimeout: dialTimeout,
		htmlParser:  htmlParser,
		logger:      logger.With("component", "imap"),
	}
}

// Connect logs in to the mailbox described by creds
func (t *Transport) Connect(ctx context.Context, creds models.Credentials) (Session, error) {
	c := NewClient(ClientConfig{
		Email:       creds.Address,
		Password:    creds.Secret,
		Server:      net.JoinHostPort(creds.IMAPHost, strconv.Itoa(creds.IMAPPort)),
		DialTimeout: t.dialTimeout,
	}, t.htmlParser, t.logger)

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// TestConnection checks that creds can log in and open INBOX
func (t *Transport) TestConnection(ctx context.Context, creds models.Credentials) error {
	session, err := t.Connect(ctx, creds)
	if err != nil {
		return err
	}
	return session.Close()
}
