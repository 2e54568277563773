package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/webclip/dbopen"
	"github.com/hazyhaar/webclip/idgen"
)

// Capture is one journalled capture invocation.
type Capture struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase"`
	PageURL   string    `json:"pageUrl,omitempty"`
	NoteID    string    `json:"noteId,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrNoCapture means the journal has no row with that id.
var ErrNoCapture = errors.New("settings: no such capture")

// Begin journals a new capture of kind in phase and returns its id.
func (s *Store) Begin(ctx context.Context, kind, phase string) (string, error) {
	id := idgen.New()
	now := s.now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO captures (id, kind, phase, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, phase, now, now)
	if err != nil {
		return "", fmt.Errorf("settings: journal begin: %w", err)
	}
	return id, nil
}

// Advance records the phase a capture reached.
func (s *Store) Advance(ctx context.Context, id, phase string) error {
	return s.update(ctx, id, `phase = ?`, phase)
}

// SetPageURL records the page a capture is filed under.
func (s *Store) SetPageURL(ctx context.Context, id, pageURL string) error {
	return s.update(ctx, id, `page_url = ?`, pageURL)
}

// Finish records the terminal phase, the created note (if any) and the
// failure (if any).
func (s *Store) Finish(ctx context.Context, id, phase, noteID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, id, `phase = ?, note_id = ?, error = ?`, phase, noteID, msg)
}

func (s *Store) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.now().UnixMilli(), id)
	res, err := dbopen.Exec(ctx, s.db, `UPDATE captures SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("settings: journal update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNoCapture, id)
	}
	return nil
}

// Capture returns one journal row.
func (s *Store) Capture(ctx context.Context, id string) (Capture, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, fmt.Errorf("%w: %s", ErrNoCapture, id)
	}
	return c, err
}

// Recent returns the latest captures, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+captureColumns+` FROM captures ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("settings: journal list: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes captures started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM captures WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("settings: journal prune: %w", err)
	}
	return res.RowsAffected()
}

const captureColumns = `id, kind, phase, page_url, note_id, error, started_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanCapture(r scanner) (Capture, error) {
	var c Capture
	var started, updated int64
	if err := r.Scan(&c.ID, &c.Kind, &c.Phase, &c.PageURL, &c.NoteID, &c.Error, &started, &updated); err != nil {
		return Capture{}, err
	}
	c.StartedAt = time.UnixMilli(started)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}
