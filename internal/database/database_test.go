package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailchat/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func testCreds(address string) models.Credentials {
	return models.Credentials{
		Address:  address,
		Secret:   "abcdabcdabcdabcd",
		IMAPHost: "imap.gmail.com",
		IMAPPort: 993,
		SMTPHost: "smtp.gmail.com",
		SMTPPort: 587,
	}
}

// newVerifiedAccount registers chatID with credentials and forces it verified
func newVerifiedAccount(t *testing.T, db *DB, chatID int64, address string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.Register(ctx, chatID))
	require.NoError(t, db.SetCredentials(ctx, chatID, testCreds(address)))
	_, err := db.ExecContext(ctx, `UPDATE accounts SET is_verified = true WHERE chat_id = ?`, chatID)
	require.NoError(t, err)
}
