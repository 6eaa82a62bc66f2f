package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dialcron/internal/core"
)

// ErrContactNotFound is returned when a contact id does not exist.
var ErrContactNotFound = errors.New("contact not found")

const contactColumns = `id, user_id, full_name, phone_number, status, last_contacted_at, created_at`

// InsertContact stores a contact. Contacts are normally owned by the CRM
// side; the engine only reads them and stamps calls.
func (s *Store) InsertContact(ctx context.Context, c *core.Contact) error {
	if c.ID == "" {
		c.ID = core.NewID()
	}
	if c.Status == "" {
		c.Status = core.ContactStatusNew
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.FullName, c.PhoneNumber, string(c.Status), nullableTime(c.LastContactedAt),
		formatTime(c.CreatedAt), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// GetContact loads one contact.
func (s *Store) GetContact(ctx context.Context, id string) (*core.Contact, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListContacts returns a user's contacts, oldest first.
func (s *Store) ListContacts(ctx context.Context, userID string, limit, offset int) ([]core.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return collectContacts(rows)
}

// QueryEligible returns the user's contacts in one of statuses that were never
// contacted or last contacted at or before cooldownBefore. Never-contacted
// contacts come first, then the longest-waiting ones.
func (s *Store) QueryEligible(ctx context.Context, userID string, statuses []core.ContactStatus, cooldownBefore time.Time) ([]core.Contact, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+2)
	args = append(args, userID)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, formatTime(cooldownBefore))

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = ?
			AND status IN (`+placeholders+`)
			AND (last_contacted_at IS NULL OR last_contacted_at <= ?)
		ORDER BY last_contacted_at IS NOT NULL, last_contacted_at, created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible contacts: %w", err)
	}
	return collectContacts(rows)
}

func collectContacts(rows *sql.Rows) ([]core.Contact, error) {
	defer rows.Close()
	var out []core.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkContacted stamps a placed call on the contact and moves it to the
// contacted status.
func (s *Store) MarkContacted(ctx context.Context, contactID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE contacts
		SET status = ?, last_contacted_at = ?, updated_at = ?
		WHERE id = ?
	`, string(core.ContactStatusContacted), formatTime(at), formatTime(time.Now()), contactID)
	if err != nil {
		return fmt.Errorf("mark contact contacted: %w", err)
	}
	return expectOneRow(res, ErrContactNotFound)
}

func scanContact(row scanner) (*core.Contact, error) {
	var (
		c               core.Contact
		status          string
		lastContactedAt sql.NullString
		createdAt       string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.FullName, &c.PhoneNumber, &status, &lastContactedAt, &createdAt); err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.Status = core.ContactStatus(status)
	var err error
	if c.LastContactedAt, err = parseNullTime(lastContactedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}
