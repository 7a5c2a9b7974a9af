package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			name TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS clips (
			channel_id TEXT NOT NULL,
			clip_id TEXT NOT NULL,
			poster TEXT,
			posted_at INTEGER,
			expires_at INTEGER,
			filename TEXT,
			media_url TEXT,
			description TEXT,
			PRIMARY KEY (channel_id, clip_id),
			FOREIGN KEY (channel_id) REFERENCES channels(channel_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_clips_poster ON clips(poster);`,
		`CREATE INDEX IF NOT EXISTS idx_clips_posted ON clips(posted_at);`,
		`CREATE TABLE IF NOT EXISTS author_icons (
			poster TEXT PRIMARY KEY,
			display_url TEXT NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Migration: clips tables created before durations were imported lack the column
	if err := s.migrateAddDuration(ctx); err != nil {
		return err
	}

	return nil
}

// migrateAddDuration adds the duration_seconds column to an existing clips table.
func (s *SQLiteStore) migrateAddDuration(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(clips)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasDuration := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "duration_seconds" {
			hasDuration = true
			break
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	if !hasDuration {
		_, err := s.db.ExecContext(ctx, `ALTER TABLE clips ADD COLUMN duration_seconds REAL DEFAULT 0`)
		if err != nil {
			return err
		}
	}
	return nil
}

func toMillis(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

// ReplaceCatalog swaps the stored channels and clips in one transaction.
func (s *SQLiteStore) ReplaceCatalog(ctx context.Context, channels []Channel, clips []ClipItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clips`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return err
	}

	now := time.Now().UTC()
	chStmt, err := tx.PrepareContext(ctx, `INSERT INTO channels (channel_id, name, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer chStmt.Close()
	for _, ch := range channels {
		if ch.ID == ChannelAll {
			return fmt.Errorf("channel %q: %w", ch.ID, ErrReservedChannel)
		}
		if _, err := chStmt.ExecContext(ctx, ch.ID, nullableString(ch.Name), now); err != nil {
			return fmt.Errorf("insert channel %s: %w", ch.ID, err)
		}
	}

	clipStmt, err := tx.PrepareContext(ctx, `
INSERT INTO clips (channel_id, clip_id, poster, posted_at, expires_at, filename, media_url, description, duration_seconds)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer clipStmt.Close()
	for _, c := range clips {
		if _, err := clipStmt.ExecContext(ctx, c.ChannelID, c.ID, c.Poster, toMillis(c.Timestamp),
			toMillis(c.ExpireTimestamp), c.Filename, c.MediaURL, c.Description, c.DurationSeconds); err != nil {
			return fmt.Errorf("insert clip %s/%s: %w", c.ChannelID, c.ID, err)
		}
	}

	return tx.Commit()
}

// ReplaceIcons swaps the stored author icons in one transaction.
func (s *SQLiteStore) ReplaceIcons(ctx context.Context, icons []AuthorIcon) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM author_icons`); err != nil {
		return err
	}
	for _, icon := range icons {
		_, err := tx.ExecContext(ctx, `
INSERT INTO author_icons (poster, display_url) VALUES (?, ?)
ON CONFLICT(poster) DO UPDATE SET display_url = excluded.display_url`, icon.Poster, icon.DisplayURL)
		if err != nil {
			return fmt.Errorf("insert icon %s: %w", icon.Poster, err)
		}
	}
	return tx.Commit()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT channel_id, name, created_at FROM channels WHERE channel_id = ?`, channelID)

	var ch Channel
	var name sql.NullString
	err := row.Scan(&ch.ID, &name, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch.Name = name.String
	if ch.Name == "" {
		ch.Name = ch.ID
	}
	return &ch, nil
}

// ListChannels returns all stored channels in insertion order.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, name, created_at FROM channels ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		var name sql.NullString
		if err := rows.Scan(&ch.ID, &name, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Name = name.String
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

const clipColumns = `channel_id, clip_id, poster, posted_at, expires_at, filename, media_url, description, duration_seconds`

// GetClip retrieves one clip.
func (s *SQLiteStore) GetClip(ctx context.Context, channelID, clipID string) (*ClipItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE channel_id = ? AND clip_id = ?`, channelID, clipID)
	if err != nil {
		return nil, err
	}
	clips, err := scanClips(rows)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, nil
	}
	return &clips[0], nil
}

// ListClips returns the whole catalog in import order.
func (s *SQLiteStore) ListClips(ctx context.Context) ([]ClipItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	return scanClips(rows)
}

// ListClipsByChannel returns the clips of one channel, newest first.
func (s *SQLiteStore) ListClipsByChannel(ctx context.Context, channelID string, limit int) ([]ClipItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+clipColumns+` FROM clips
WHERE channel_id = ?
ORDER BY posted_at DESC
LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	return scanClips(rows)
}

func scanClips(rows *sql.Rows) ([]ClipItem, error) {
	defer rows.Close()
	var clips []ClipItem
	for rows.Next() {
		var c ClipItem
		var poster, filename, mediaURL, desc sql.NullString
		var posted, expires sql.NullInt64
		var duration sql.NullFloat64
		if err := rows.Scan(&c.ChannelID, &c.ID, &poster, &posted, &expires, &filename, &mediaURL, &desc, &duration); err != nil {
			return nil, err
		}
		c.Poster = poster.String
		c.Timestamp = fromMillis(posted)
		c.ExpireTimestamp = fromMillis(expires)
		c.Filename = filename.String
		c.MediaURL = mediaURL.String
		c.Description = desc.String
		c.DurationSeconds = duration.Float64
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// ListIcons returns every author icon ordered by poster.
func (s *SQLiteStore) ListIcons(ctx context.Context) ([]AuthorIcon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT poster, display_url FROM author_icons ORDER BY poster`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var icons []AuthorIcon
	for rows.Next() {
		var icon AuthorIcon
		if err := rows.Scan(&icon.Poster, &icon.DisplayURL); err != nil {
			return nil, err
		}
		icons = append(icons, icon)
	}
	return icons, rows.Err()
}

// GetCatalogStats summarizes the stored catalog as of now.
func (s *SQLiteStore) GetCatalogStats(ctx context.Context, now time.Time, topPosters int) (*CatalogStats, error) {
	stats := &CatalogStats{ClipsByChannel: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips`).Scan(&stats.TotalClips); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UnixMilli()).Scan(&stats.ExpiredClips); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&stats.Channels); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT poster) FROM clips WHERE poster IS NOT NULL AND poster != ''`).Scan(&stats.Posters); err != nil {
		return nil, err
	}

	// Clips by channel
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, COUNT(*) FROM clips GROUP BY channel_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var channel string
		var count int
		if err := rows.Scan(&channel, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ClipsByChannel[channel] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Top posters
	if topPosters > 0 {
		rows, err = s.db.QueryContext(ctx, `
SELECT poster, COUNT(*) AS n FROM clips
WHERE poster IS NOT NULL AND poster != ''
GROUP BY poster
ORDER BY n DESC, poster ASC
LIMIT ?`, topPosters)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var pc PosterCount
			if err := rows.Scan(&pc.Poster, &pc.Count); err != nil {
				rows.Close()
				return nil, err
			}
			stats.TopPosters = append(stats.TopPosters, pc)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(posted_at), MAX(posted_at) FROM clips`).Scan(&oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := fromMillis(oldest)
		stats.OldestTimestamp = &t
	}
	if newest.Valid {
		t := fromMillis(newest)
		stats.NewestTimestamp = &t
	}

	return stats, nil
}
