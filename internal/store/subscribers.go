package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateSubscriber adds email to the list. An address already on file is
// returned unchanged with created=false.
func (s *Store) CreateSubscriber(ctx context.Context, email, source string) (Subscriber, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Subscriber{}, false, &ValidationError{Field: "email", Message: "is required"}
	}
	subscriber := Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		Source:       strings.TrimSpace(source),
		SubscribedAt: s.now().UTC(),
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO subscribers (id, email, source, subscribed_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(email) DO NOTHING;`,
		subscriber.ID, subscriber.Email, subscriber.Source, subscriber.SubscribedAt.UnixMilli())
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	if affected == 1 {
		return subscriber, true, nil
	}
	existing, err := s.getSubscriberByEmail(ctx, email)
	if err != nil {
		return Subscriber{}, false, err
	}
	return existing, false, nil
}

func (s *Store) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, source, subscribed_at FROM subscribers
        ORDER BY subscribed_at DESC, id DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []Subscriber{}
	for rows.Next() {
		subscriber, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, subscriber)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subscribers, nil
}

func (s *Store) getSubscriberByEmail(ctx context.Context, email string) (Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, source, subscribed_at FROM subscribers WHERE email = ?;`, email)
	subscriber, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscriber{}, ErrNotFound
		}
		return Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return subscriber, nil
}

func scanSubscriber(row scanner) (Subscriber, error) {
	var subscriber Subscriber
	var subscribedAt int64
	if err := row.Scan(&subscriber.ID, &subscriber.Email, &subscriber.Source, &subscribedAt); err != nil {
		return Subscriber{}, err
	}
	subscriber.SubscribedAt = fromMillis(subscribedAt)
	return subscriber, nil
}
