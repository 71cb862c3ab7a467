package database

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expiry DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    provider_message_id TEXT NOT NULL,
    thread_id TEXT NOT NULL DEFAULT '',
    sender_address TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    recipient TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    plain_body TEXT NOT NULL DEFAULT '',
    html_body TEXT NOT NULL DEFAULT '',
    received_at DATETIME NOT NULL,
    is_read BOOLEAN NOT NULL DEFAULT false,
    requires_reply BOOLEAN NOT NULL DEFAULT true,
    malformed BOOLEAN NOT NULL DEFAULT false,
    created_at DATETIME NOT NULL,
    UNIQUE(user_id, provider_message_id)
);

CREATE TABLE IF NOT EXISTS drafts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    subject TEXT NOT NULL DEFAULT '',
    plain_body TEXT NOT NULL DEFAULT '',
    html_body TEXT NOT NULL DEFAULT '',
    is_approved BOOLEAN NOT NULL DEFAULT false,
    is_sent BOOLEAN NOT NULL DEFAULT false,
    provider_message_id TEXT NOT NULL DEFAULT '',
    sent_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    user_id TEXT PRIMARY KEY,
    customer_ref TEXT NOT NULL DEFAULT '',
    subscription_ref TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'incomplete',
    period_start DATETIME,
    period_end DATETIME,
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_user_received ON messages(user_id, received_at);
CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_drafts_message ON drafts(message_id);
CREATE INDEX IF NOT EXISTS idx_drafts_user_created ON drafts(user_id, created_at);
`
