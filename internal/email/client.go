package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailchat/internal/parser"
	"github.com/mixelka/mailchat/pkg/models"
)

var (
	// ErrAuth the mailbox rejected the credentials, permanent until they change
	ErrAuth = errors.New("mailbox authentication failed")
	// ErrNetwork the mailbox could not be reached, transient
	ErrNetwork = errors.New("mailbox unreachable")
)

// IsAuthError reports whether err is a credential rejection
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// Session is an open, logged-in mailbox
type Session interface {
	FetchUnseen(ctx context.Context, limit int, processed ProcessedFunc) ([]models.MailMessage, error)
	Close() error
}

// ClientConfig configuration for IMAP client
type ClientConfig struct {
	Email       string
	Password    string
	Server      string // host:port
	DialTimeout time.Duration
}

// Client IMAP session for a single mailbox
type Client struct {
	config      ClientConfig
	client      *client.Client
	htmlParser  *parser.HTMLParser
	logger      *slog.Logger
	mu          sync.Mutex
	uidValidity uint32
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, htmlParser *parser.HTMLParser, logger *slog.Logger) *Client {
	return &Client{
		config:     cfg,
		htmlParser: htmlParser,
		logger:     logger.With("email", cfg.Email),
	}
}

// Connect dials the server over TLS, logs in and opens INBOX read-only
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.logger.Debug("connecting to IMAP server", "server", c.config.Server)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Server)
	if err != nil {
		return fmt.Errorf("%w: failed to connect: %v", ErrNetwork, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: failed to create IMAP client: %v", ErrNetwork, err)
	}

	if err := imapClient.Login(c.config.Email, c.config.Password); err != nil {
		imapClient.Terminate()
		if isTransportError(err) {
			return fmt.Errorf("%w: login interrupted: %v", ErrNetwork, err)
		}
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	mbox, err := imapClient.Select("INBOX", true)
	if err != nil {
		imapClient.Logout()
		return fmt.Errorf("%w: failed to select INBOX: %v", ErrNetwork, err)
	}

	c.client = imapClient
	c.uidValidity = mbox.UidValidity
	c.logger.Debug("connected to IMAP server", "messages", mbox.Messages)

	return nil
}

// ProcessedFunc reports whether a message id was already handled for this mailbox
type ProcessedFunc func(ctx context.Context, messageID string) (bool, error)

// FetchUnseen returns up to limit of the oldest unseen messages that processed
// does not know yet. Envelopes of every unseen message are read first so the
// limit never hides older mail behind already handled newer mail.
// Bodies are fetched with PEEK so the server-side flags are left alone.
func (c *Client) FetchUnseen(ctx context.Context, limit int, processed ProcessedFunc) ([]models.MailMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrNetwork)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search: %v", ErrNetwork, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	envelopes, err := c.uidFetch(uids, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid})
	if err != nil {
		return nil, err
	}

	pending, err := c.selectPending(ctx, envelopes, limit, processed)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	pendingUIDs := make([]uint32, 0, len(pending))
	for _, msg := range pending {
		pendingUIDs = append(pendingUIDs, msg.Uid)
	}

	section := &imap.BodySectionName{Peek: true}
	fetched, err := c.uidFetch(pendingUIDs, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()})
	if err != nil {
		return nil, err
	}

	// Oldest first so deliveries keep mailbox order
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Uid < fetched[j].Uid })

	result := make([]models.MailMessage, 0, len(fetched))
	for _, msg := range fetched {
		result = append(result, c.parseMessage(msg, section))
	}
	return result, nil
}

// selectPending orders envelopes oldest first, drops processed ones and keeps limit
func (c *Client) selectPending(ctx context.Context, envelopes []*imap.Message, limit int, processed ProcessedFunc) ([]*imap.Message, error) {
	sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].Uid < envelopes[j].Uid })

	var pending []*imap.Message
	for _, msg := range envelopes {
		if limit > 0 && len(pending) >= limit {
			break
		}
		if processed != nil {
			done, err := processed(ctx, c.messageID(msg))
			if err != nil {
				return nil, fmt.Errorf("failed to check processed messages: %w", err)
			}
			if done {
				continue
			}
		}
		pending = append(pending, msg)
	}
	return pending, nil
}

func (c *Client) uidFetch(uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: failed to fetch: %v", ErrNetwork, err)
	}
	return fetched, nil
}

// messageID is the Message-ID header, or a uid-based identity when it is missing
func (c *Client) messageID(msg *imap.Message) string {
	if msg.Envelope != nil && msg.Envelope.MessageId != "" {
		return msg.Envelope.MessageId
	}
	return "uid:" + strconv.FormatUint(uint64(c.uidValidity), 10) + ":" + strconv.FormatUint(uint64(msg.Uid), 10)
}

// parseMessage converts an IMAP message into the mailbox-neutral form
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) models.MailMessage {
	out := models.MailMessage{
		MessageID: c.messageID(msg),
		Sender:    "Unknown",
		Subject:   "No Subject",
	}

	if msg.Envelope != nil {
		if msg.Envelope.Subject != "" {
			out.Subject = msg.Envelope.Subject
		}
		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			out.Sender = from.Address()
			if from.PersonalName != "" {
				out.Sender = fmt.Sprintf("%s <%s>", from.PersonalName, from.Address())
			}
		}
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return out
	}

	text, html := c.readBody(bodyReader)
	if text == "" && html != "" {
		parsed, err := c.htmlParser.Parse(html)
		if err != nil {
			c.logger.Warn("failed to parse HTML", "uid", msg.Uid, "error", err)
		}
		text = parsed
	}
	out.Body = strings.TrimSpace(text)

	return out
}

// readBody collects the inline text/plain and text/html parts
func (c *Client) readBody(r io.Reader) (text, html string) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		c.logger.Warn("failed to create mail reader", "error", err)
		return "", ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain"):
			text += string(body)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(body)
		}
	}

	return text, html
}

// Close logs out, forcing the connection shut if logout stalls
func (c *Client) Close() error {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.mu.Unlock()

	if imapClient == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- imapClient.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return imapClient.Terminate()
	}
}

// isTransportError distinguishes broken connections from server NO responses
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
