package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    chat_id INTEGER PRIMARY KEY,
    email_address TEXT UNIQUE,
    email_secret TEXT,
    imap_host TEXT,
    imap_port INTEGER,
    smtp_host TEXT,
    smtp_port INTEGER,
    is_verified BOOLEAN NOT NULL DEFAULT false,
    verification_code TEXT,
    verification_expiry DATETIME,
    poll_status TEXT NOT NULL DEFAULT 'idle',
    poll_error TEXT,
    last_polled_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    CHECK (verification_code IS NULL OR verification_expiry IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS processed_emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER NOT NULL REFERENCES accounts(chat_id) ON DELETE CASCADE,
    message_id TEXT NOT NULL,
    sender TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    original_body TEXT NOT NULL DEFAULT '',
    chat_message_id INTEGER NOT NULL DEFAULT 0,
    processed_at DATETIME NOT NULL,
    UNIQUE(chat_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_verified ON accounts(is_verified);
CREATE INDEX IF NOT EXISTS idx_processed_chat ON processed_emails(chat_id, processed_at);
`
