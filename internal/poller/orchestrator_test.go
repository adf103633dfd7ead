package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/delivery"
	"github.com/mixelka/mailchat/internal/email"
	"github.com/mixelka/mailchat/pkg/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeMailboxes serves the same unseen messages on every connect, like a
// server where nothing gets flagged \Seen.
type fakeMailboxes struct {
	mu       sync.Mutex
	inbox    map[string][]models.MailMessage
	failures map[string]error
	hang     map[string]bool
	connects map[string]int
}

func newFakeMailboxes() *fakeMailboxes {
	return &fakeMailboxes{
		inbox:    make(map[string][]models.MailMessage),
		failures: make(map[string]error),
		hang:     make(map[string]bool),
		connects: make(map[string]int),
	}
}

func (f *fakeMailboxes) Connect(ctx context.Context, creds models.Credentials) (email.Session, error) {
	f.mu.Lock()
	f.connects[creds.Address]++
	hang := f.hang[creds.Address]
	err := f.failures[creds.Address]
	messages := f.inbox[creds.Address]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", email.ErrNetwork, ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return &fakeSession{messages: messages}, nil
}

type fakeSession struct {
	messages []models.MailMessage
}

// FetchUnseen keeps the oldest limit messages that processed does not know
func (s *fakeSession) FetchUnseen(ctx context.Context, limit int, processed email.ProcessedFunc) ([]models.MailMessage, error) {
	var out []models.MailMessage
	for _, msg := range s.messages {
		if len(out) >= limit {
			break
		}
		done, err := processed(ctx, msg.MessageID)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeSummarizer struct {
	fail map[string]bool
	// hook runs before each summary when set
	hook func(ctx context.Context, subject string)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, sender, subject, body string) (string, error) {
	if f.hook != nil {
		f.hook(ctx, subject)
	}
	if f.fail[subject] {
		return "", fmt.Errorf("model unavailable")
	}
	return "summary of " + subject, nil
}

// fakeChat records deliveries; subjects in fail are rejected
type fakeChat struct {
	mu        sync.Mutex
	fail      map[string]bool
	delivered map[int64][]string
	next      int
}

func newFakeChat() *fakeChat {
	return &fakeChat{fail: make(map[string]bool), delivered: make(map[int64][]string)}
}

func (f *fakeChat) Deliver(ctx context.Context, chatID int64, note models.Notification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[note.Subject] {
		return 0, fmt.Errorf("chat unavailable")
	}
	f.next++
	f.delivered[chatID] = append(f.delivered[chatID], note.Subject)
	return f.next, nil
}

func (f *fakeChat) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered[chatID])
}

type harness struct {
	db          *database.DB
	mailboxes   *fakeMailboxes
	summarizer  *fakeSummarizer
	chat        *fakeChat
	coordinator *delivery.Coordinator
	orch        *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "poller.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	h := &harness{
		db:         db,
		mailboxes:  newFakeMailboxes(),
		summarizer: &fakeSummarizer{fail: make(map[string]bool)},
		chat:       newFakeChat(),
	}
	h.coordinator = delivery.NewCoordinator(db, h.summarizer, h.chat, nil, discard)
	h.configure(Config{Concurrency: 2})
	return h
}

func (h *harness) configure(cfg Config) {
	h.orch = NewOrchestrator(h.db, h.mailboxes, h.coordinator, cfg, discard)
}

// verify walks an account through setup and a successful verification
func (h *harness) verify(t *testing.T, chatID int64, address string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.db.Register(ctx, chatID))
	require.NoError(t, h.db.SetCredentials(ctx, chatID, models.Credentials{
		Address:  address,
		Secret:   "app-password",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
	}))
	now := time.Now()
	require.NoError(t, h.db.BeginVerification(ctx, chatID, "482913", now.Add(5*time.Minute)))
	outcome, err := h.db.CheckVerification(ctx, chatID, "482913", now)
	require.NoError(t, err)
	require.Equal(t, models.VerificationAccepted, outcome)
}

func (h *harness) history(t *testing.T, chatID int64) []string {
	t.Helper()
	records, err := h.db.History(context.Background(), chatID, 100)
	require.NoError(t, err)
	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.MessageID)
	}
	return ids
}

func (h *harness) account(t *testing.T, chatID int64) *models.Account {
	t.Helper()
	account, err := h.db.GetAccount(context.Background(), chatID)
	require.NoError(t, err)
	return account
}

func message(id string) models.MailMessage {
	return models.MailMessage{MessageID: id, Sender: "bob@example.com", Subject: id, Body: "body of " + id}
}

func messages(ids ...string) []models.MailMessage {
	out := make([]models.MailMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, message(id))
	}
	return out
}

func TestRunCycleDeliversOnceAcrossCycles(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = []models.MailMessage{message("M1"), message("M2")}

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, 2, h.chat.count(1))
	assert.ElementsMatch(t, []string{"M1", "M2"}, h.history(t, 1))

	// Both are still unseen on the server; the ledger suppresses them.
	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, 2, h.chat.count(1))
	assert.Len(t, h.history(t, 1), 2)

	account := h.account(t, 1)
	assert.Equal(t, models.PollStatusOK, account.PollStatus)
	assert.NotNil(t, account.LastPolledAt)
}

func TestRunCycleRetriesFailedDelivery(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = []models.MailMessage{message("M1"), message("M2")}
	h.chat.fail["M1"] = true

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, []string{"M2"}, h.history(t, 1))
	assert.Equal(t, models.PollStatusPartial, h.account(t, 1).PollStatus)

	h.chat.fail["M1"] = false
	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, []string{"M2", "M1"}, h.chat.delivered[1])
	assert.ElementsMatch(t, []string{"M1", "M2"}, h.history(t, 1))
	assert.Equal(t, models.PollStatusOK, h.account(t, 1).PollStatus)
}

func TestRunCycleSummarizationFailureNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = []models.MailMessage{message("M1")}
	h.summarizer.fail["M1"] = true

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Empty(t, h.history(t, 1))
	assert.Zero(t, h.chat.count(1))

	h.summarizer.fail["M1"] = false
	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, []string{"M1"}, h.history(t, 1))
}

func TestRunCycleIsolatesAccountFailures(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.verify(t, 2, "b@example.com")
	h.verify(t, 3, "c@example.com")
	h.mailboxes.failures["a@example.com"] = fmt.Errorf("%w: invalid credentials", email.ErrAuth)
	h.mailboxes.failures["c@example.com"] = fmt.Errorf("%w: connection refused", email.ErrNetwork)
	h.mailboxes.inbox["b@example.com"] = []models.MailMessage{message("B1")}

	require.NoError(t, h.orch.RunCycle(context.Background()))

	assert.Equal(t, []string{"B1"}, h.history(t, 2))
	assert.Equal(t, models.PollStatusAuthFailed, h.account(t, 1).PollStatus)
	assert.Equal(t, models.PollStatusOK, h.account(t, 2).PollStatus)
	assert.Equal(t, models.PollStatusNetworkError, h.account(t, 3).PollStatus)
	require.NotNil(t, h.account(t, 1).PollError)

	// Failing accounts stay in the feed and are polled again.
	verified, err := h.db.ListVerified(context.Background())
	require.NoError(t, err)
	assert.Len(t, verified, 3)

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, 2, h.mailboxes.connects["a@example.com"])
}

func TestRunCycleSkipsUnverifiedAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.Register(ctx, 9))
	require.NoError(t, h.db.SetCredentials(ctx, 9, models.Credentials{
		Address: "x@example.com", Secret: "s", IMAPHost: "h", IMAPPort: 993, SMTPHost: "h", SMTPPort: 587,
	}))
	h.mailboxes.inbox["x@example.com"] = []models.MailMessage{message("X1")}

	require.NoError(t, h.orch.RunCycle(ctx))
	assert.Zero(t, h.mailboxes.connects["x@example.com"])
	assert.Zero(t, h.chat.count(9))
}

func TestRunCycleCancelledBeforeAccounts(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = []models.MailMessage{message("M1")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.orch.RunCycle(ctx), context.Canceled)
}

func TestRunCycleDrainsBacklogBeyondFetchLimit(t *testing.T) {
	h := newHarness(t)
	h.configure(Config{Concurrency: 2, FetchLimit: 5})
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = messages("M1", "M2", "M3", "M4", "M5", "M6", "M7")

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, []string{"M1", "M2", "M3", "M4", "M5"}, h.chat.delivered[1])

	// All seven stay unseen; the delivered five must not hide the rest.
	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, []string{"M1", "M2", "M3", "M4", "M5", "M6", "M7"}, h.chat.delivered[1])

	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Equal(t, 7, h.chat.count(1))
	assert.Len(t, h.history(t, 1), 7)
	assert.Equal(t, models.PollStatusOK, h.account(t, 1).PollStatus)
}

func TestRunCycleFinishesMessageInFlightOnCancel(t *testing.T) {
	h := newHarness(t)
	h.verify(t, 1, "a@example.com")
	h.mailboxes.inbox["a@example.com"] = messages("M1", "M2", "M3")

	started := make(chan struct{})
	release := make(chan struct{})
	var seenErr error
	h.summarizer.hook = func(ctx context.Context, subject string) {
		if subject != "M1" {
			return
		}
		close(started)
		<-release
		seenErr = ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.orch.RunCycle(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first message never reached the summarizer")
	}
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not return after cancellation")
	}

	assert.NoError(t, seenErr)
	assert.Equal(t, []string{"M1"}, h.chat.delivered[1])
	assert.Equal(t, []string{"M1"}, h.history(t, 1))

	account := h.account(t, 1)
	assert.Equal(t, models.PollStatusPartial, account.PollStatus)
	require.NotNil(t, account.PollError)
	assert.Contains(t, *account.PollError, "2 of 3")
}

func TestRunCycleBoundsHangingAccount(t *testing.T) {
	h := newHarness(t)
	h.configure(Config{Concurrency: 2, AccountTimeout: 100 * time.Millisecond})
	h.verify(t, 1, "a@example.com")
	h.verify(t, 2, "b@example.com")
	h.mailboxes.hang["a@example.com"] = true
	h.mailboxes.inbox["b@example.com"] = messages("B1")

	start := time.Now()
	require.NoError(t, h.orch.RunCycle(context.Background()))
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, []string{"B1"}, h.history(t, 2))
	assert.Equal(t, models.PollStatusOK, h.account(t, 2).PollStatus)
	assert.Equal(t, models.PollStatusNetworkError, h.account(t, 1).PollStatus)
}
