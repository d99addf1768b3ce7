package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const inboundColumns = `id, message_id, from_email, from_name, to_json, cc_json, bcc_json, subject,
        text_body, html_body, attachments_json, reply_to_json, in_reply_to, references_json, labels_json,
        read, starred, archived, forwarded_to_gmail, forwarded_at, received_at, raw, created_at, updated_at`

// CreateInboundEmail inserts a normalized message. The UNIQUE constraint on
// message_id makes the check-and-insert atomic; a second insert for the same
// provider id returns ErrDuplicateMessage.
func (s *Store) CreateInboundEmail(ctx context.Context, email InboundEmail) (InboundEmail, error) {
	if err := validateInbound(email); err != nil {
		return InboundEmail{}, err
	}
	now := s.now().UTC()
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if strings.TrimSpace(email.Subject) == "" {
		email.Subject = DefaultSubject
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = now
	}
	email.To = nonNil(email.To)
	email.Cc = nonNil(email.Cc)
	email.Bcc = nonNil(email.Bcc)
	email.Attachments = nonNil(email.Attachments)
	email.References = nonNil(email.References)
	email.Labels = nonNil(email.Labels)
	email.ForwardedToGmail = false
	email.ForwardedAt = nil
	email.CreatedAt = now
	email.UpdatedAt = now

	args, err := inboundJSONArgs(email)
	if err != nil {
		return InboundEmail{}, fmt.Errorf("encode inbound email: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO inbound_emails
        (id, message_id, from_email, from_name, to_json, cc_json, bcc_json, subject, text_body, html_body,
         attachments_json, reply_to_json, in_reply_to, references_json, labels_json,
         read, starred, archived, forwarded_to_gmail, forwarded_at, received_at, raw, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)
        ON CONFLICT(message_id) DO NOTHING;`,
		email.ID,
		email.MessageID,
		email.From.Email,
		email.From.Name,
		args.to,
		args.cc,
		args.bcc,
		email.Subject,
		email.Text,
		email.HTML,
		args.attachments,
		args.replyTo,
		email.InReplyTo,
		args.references,
		args.labels,
		boolInt(email.Read),
		boolInt(email.Starred),
		boolInt(email.Archived),
		email.ReceivedAt.UnixMilli(),
		email.Raw,
		email.CreatedAt.UnixMilli(),
		email.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return InboundEmail{}, fmt.Errorf("insert inbound email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return InboundEmail{}, fmt.Errorf("insert inbound email: %w", err)
	}
	if affected == 0 {
		return InboundEmail{}, ErrDuplicateMessage
	}
	return email, nil
}

func (s *Store) GetInboundEmail(ctx context.Context, id string) (InboundEmail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inboundColumns+` FROM inbound_emails WHERE id = ?;`, id)
	email, err := scanInbound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InboundEmail{}, ErrNotFound
		}
		return InboundEmail{}, fmt.Errorf("get inbound email: %w", err)
	}
	return email, nil
}

func (s *Store) GetInboundEmailByMessageID(ctx context.Context, messageID string) (InboundEmail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inboundColumns+` FROM inbound_emails WHERE message_id = ?;`, messageID)
	email, err := scanInbound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InboundEmail{}, ErrNotFound
		}
		return InboundEmail{}, fmt.Errorf("get inbound email: %w", err)
	}
	return email, nil
}

// UpdateInboundEmail applies the non-nil flags in patch and returns the
// updated record.
func (s *Store) UpdateInboundEmail(ctx context.Context, id string, patch InboundPatch) (InboundEmail, error) {
	sets := []string{}
	args := []any{}
	if patch.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, boolInt(*patch.Read))
	}
	if patch.Starred != nil {
		sets = append(sets, "starred = ?")
		args = append(args, boolInt(*patch.Starred))
	}
	if patch.Archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, boolInt(*patch.Archived))
	}
	if patch.Labels != nil {
		labels, err := encodeJSON(nonNil(*patch.Labels))
		if err != nil {
			return InboundEmail{}, fmt.Errorf("encode labels: %w", err)
		}
		sets = append(sets, "labels_json = ?")
		args = append(args, labels)
	}
	if len(sets) == 0 {
		return s.GetInboundEmail(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC().UnixMilli(), id)

	result, err := s.db.ExecContext(ctx, `UPDATE inbound_emails SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
	if err != nil {
		return InboundEmail{}, fmt.Errorf("update inbound email: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return InboundEmail{}, fmt.Errorf("update inbound email: %w", err)
	} else if affected == 0 {
		return InboundEmail{}, ErrNotFound
	}
	return s.GetInboundEmail(ctx, id)
}

// MarkForwarded records a successful relay. forwarded_at keeps the first
// timestamp when called again.
func (s *Store) MarkForwarded(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE inbound_emails
        SET forwarded_to_gmail = 1,
            forwarded_at = COALESCE(forwarded_at, ?),
            updated_at = CASE WHEN forwarded_to_gmail = 1 THEN updated_at ELSE ? END
        WHERE id = ?;`, at.UTC().UnixMilli(), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark forwarded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark forwarded: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListInboundEmails(ctx context.Context, filter InboundFilter) (InboundPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}

	// The unread badge ignores the read filter so it stays meaningful while
	// browsing either read or unread mail.
	whereQuery, args := inboundWhere(filter, true)
	unreadWhere, unreadArgs := inboundWhere(filter, false)
	if unreadWhere == "" {
		unreadWhere = " WHERE read = 0"
	} else {
		unreadWhere += " AND read = 0"
	}

	var page InboundPage
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM inbound_emails"+whereQuery, args...).Scan(&page.Total); err != nil {
		return InboundPage{}, fmt.Errorf("count inbound emails: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM inbound_emails"+unreadWhere, unreadArgs...).Scan(&page.UnreadCount); err != nil {
		return InboundPage{}, fmt.Errorf("count unread emails: %w", err)
	}

	listArgs := append([]any{}, args...)
	listArgs = append(listArgs, filter.Limit, filter.Skip)
	rows, err := s.db.QueryContext(ctx, `SELECT `+inboundColumns+` FROM inbound_emails`+whereQuery+
		` ORDER BY received_at DESC, id DESC LIMIT ? OFFSET ?;`, listArgs...)
	if err != nil {
		return InboundPage{}, fmt.Errorf("list inbound emails: %w", err)
	}
	defer rows.Close()

	page.Emails = []InboundEmail{}
	for rows.Next() {
		email, err := scanInbound(rows)
		if err != nil {
			return InboundPage{}, fmt.Errorf("scan inbound email: %w", err)
		}
		page.Emails = append(page.Emails, email)
	}
	if err := rows.Err(); err != nil {
		return InboundPage{}, fmt.Errorf("list inbound emails: %w", err)
	}
	return page, nil
}

// ListUnforwarded returns the oldest messages that have not been relayed yet.
func (s *Store) ListUnforwarded(ctx context.Context, limit int) ([]InboundEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+inboundColumns+` FROM inbound_emails
        WHERE forwarded_to_gmail = 0 ORDER BY received_at ASC, id ASC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unforwarded: %w", err)
	}
	defer rows.Close()

	var emails []InboundEmail
	for rows.Next() {
		email, err := scanInbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbound email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unforwarded: %w", err)
	}
	return emails, nil
}

func (s *Store) DeleteInboundEmail(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inbound_emails WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete inbound email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete inbound email: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func inboundWhere(filter InboundFilter, includeRead bool) (string, []any) {
	clauses := []string{}
	args := []any{}
	if includeRead && filter.Read != nil {
		clauses = append(clauses, "read = ?")
		args = append(args, boolInt(*filter.Read))
	}
	if filter.Starred != nil {
		clauses = append(clauses, "starred = ?")
		args = append(args, boolInt(*filter.Starred))
	}
	if filter.Archived != nil {
		clauses = append(clauses, "archived = ?")
		args = append(args, boolInt(*filter.Archived))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		clauses = append(clauses, `(from_email LIKE ? ESCAPE '\' OR from_name LIKE ? ESCAPE '\' OR subject LIKE ? ESCAPE '\' OR text_body LIKE ? ESCAPE '\')`)
		term := likePattern(search)
		args = append(args, term, term, term, term)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func validateInbound(email InboundEmail) error {
	if strings.TrimSpace(email.MessageID) == "" {
		return &ValidationError{Field: "messageId", Message: "is required"}
	}
	if strings.TrimSpace(email.From.Email) == "" {
		return &ValidationError{Field: "from.email", Message: "is required"}
	}
	if len(email.To) == 0 {
		return &ValidationError{Field: "to", Message: "at least one recipient is required"}
	}
	for _, addr := range email.To {
		if strings.TrimSpace(addr.Email) == "" {
			return &ValidationError{Field: "to.email", Message: "is required"}
		}
	}
	return nil
}

type inboundArgs struct {
	to, cc, bcc, attachments, references, labels string
	replyTo                                      sql.NullString
}

func inboundJSONArgs(email InboundEmail) (inboundArgs, error) {
	var args inboundArgs
	var err error
	if args.to, err = encodeJSON(email.To); err != nil {
		return args, err
	}
	if args.cc, err = encodeJSON(email.Cc); err != nil {
		return args, err
	}
	if args.bcc, err = encodeJSON(email.Bcc); err != nil {
		return args, err
	}
	if args.attachments, err = encodeJSON(email.Attachments); err != nil {
		return args, err
	}
	if args.references, err = encodeJSON(email.References); err != nil {
		return args, err
	}
	if args.labels, err = encodeJSON(email.Labels); err != nil {
		return args, err
	}
	if email.ReplyTo != nil {
		replyTo, err := encodeJSON(email.ReplyTo)
		if err != nil {
			return args, err
		}
		args.replyTo = sql.NullString{String: replyTo, Valid: true}
	}
	return args, nil
}

func scanInbound(row scanner) (InboundEmail, error) {
	var (
		email                                    InboundEmail
		toJSON, ccJSON, bccJSON, attachmentsJSON string
		referencesJSON, labelsJSON               string
		replyToJSON                              sql.NullString
		read, starred, archived, forwarded       int
		forwardedAt                              sql.NullInt64
		receivedAt, createdAt, updatedAt         int64
	)
	if err := row.Scan(
		&email.ID,
		&email.MessageID,
		&email.From.Email,
		&email.From.Name,
		&toJSON,
		&ccJSON,
		&bccJSON,
		&email.Subject,
		&email.Text,
		&email.HTML,
		&attachmentsJSON,
		&replyToJSON,
		&email.InReplyTo,
		&referencesJSON,
		&labelsJSON,
		&read,
		&starred,
		&archived,
		&forwarded,
		&forwardedAt,
		&receivedAt,
		&email.Raw,
		&createdAt,
		&updatedAt,
	); err != nil {
		return InboundEmail{}, err
	}

	var err error
	if email.To, err = decodeJSON(toJSON, []Address{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode to: %w", err)
	}
	if email.Cc, err = decodeJSON(ccJSON, []Address{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode cc: %w", err)
	}
	if email.Bcc, err = decodeJSON(bccJSON, []Address{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode bcc: %w", err)
	}
	if email.Attachments, err = decodeJSON(attachmentsJSON, []Attachment{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode attachments: %w", err)
	}
	if email.References, err = decodeJSON(referencesJSON, []string{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode references: %w", err)
	}
	if email.Labels, err = decodeJSON(labelsJSON, []string{}); err != nil {
		return InboundEmail{}, fmt.Errorf("decode labels: %w", err)
	}
	if replyToJSON.Valid {
		replyTo, err := decodeJSON[*Address](replyToJSON.String, nil)
		if err != nil {
			return InboundEmail{}, fmt.Errorf("decode reply-to: %w", err)
		}
		email.ReplyTo = replyTo
	}
	email.To = nonNil(email.To)
	email.Cc = nonNil(email.Cc)
	email.Bcc = nonNil(email.Bcc)
	email.Attachments = nonNil(email.Attachments)
	email.References = nonNil(email.References)
	email.Labels = nonNil(email.Labels)

	email.Read = read != 0
	email.Starred = starred != 0
	email.Archived = archived != 0
	email.ForwardedToGmail = forwarded != 0
	if forwardedAt.Valid {
		at := fromMillis(forwardedAt.Int64)
		email.ForwardedAt = &at
	}
	email.ReceivedAt = fromMillis(receivedAt)
	email.CreatedAt = fromMillis(createdAt)
	email.UpdatedAt = fromMillis(updatedAt)
	return email, nil
}
