package store

// Schema is the DDL for the framelight index database.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    id            TEXT PRIMARY KEY,
    original_path TEXT NOT NULL,
    proxy_path    TEXT,
    captured_at   TEXT NOT NULL,
    latitude      REAL,
    longitude     REAL,
    has_location  INTEGER DEFAULT 0,
    location      TEXT,
    source        TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    fail_reason   TEXT,
    ingested_at   TEXT NOT NULL,
    updated_at    TEXT
);

CREATE TABLE IF NOT EXISTS replies (
    message_id  TEXT PRIMARY KEY,
    replied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_status ON images(status);
CREATE INDEX IF NOT EXISTS idx_images_captured ON images(captured_at);
`
