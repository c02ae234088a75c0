package db

// Schema is the DDL for the mailreport database. Timestamps are UTC text
// in a fixed-width layout so they sort lexically.
const Schema = `
CREATE TABLE IF NOT EXISTS emails (
    id          TEXT PRIMARY KEY,
    account     TEXT NOT NULL,
    thread_id   TEXT NOT NULL,
    message_id  TEXT,
    from_addr   TEXT NOT NULL,
    to_addr     TEXT,
    cc          TEXT,
    subject     TEXT NOT NULL,
    snippet     TEXT,
    body        TEXT,
    date        TEXT NOT NULL,
    labels      TEXT,
    is_read     INTEGER DEFAULT 0,
    fetched_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
    email_id    TEXT PRIMARY KEY,
    summary     TEXT NOT NULL,
    labels      TEXT,
    model       TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS embeddings (
    email_id    TEXT NOT NULL,
    model       TEXT NOT NULL,
    dims        INTEGER NOT NULL,
    vector      BLOB NOT NULL,
    created_at  TEXT NOT NULL,
    PRIMARY KEY (email_id, model),
    FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(account);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date DESC);
CREATE INDEX IF NOT EXISTS idx_emails_account_date ON emails(account, date);
`
