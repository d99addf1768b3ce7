package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const enquiryColumns = `id, full_name, email, company, project_type, idea, budget, timeline, status,
        notes, tags_json, assignee, due_date, links_json, spam, created_at, updated_at`

func ValidEnquiryStatus(status string) bool {
	return slices.Contains(EnquiryStatuses, status)
}

func (s *Store) CreateEnquiry(ctx context.Context, enquiry Enquiry) (Enquiry, error) {
	enquiry.FullName = strings.TrimSpace(enquiry.FullName)
	enquiry.Email = strings.TrimSpace(enquiry.Email)
	if enquiry.Status == "" {
		enquiry.Status = DefaultEnquiryStatus
	}
	if err := validateEnquiry(enquiry); err != nil {
		return Enquiry{}, err
	}
	now := s.now().UTC()
	enquiry.ID = uuid.NewString()
	enquiry.Tags = nonNil(enquiry.Tags)
	enquiry.Links = nonNil(enquiry.Links)
	enquiry.CreatedAt = now
	enquiry.UpdatedAt = now

	tags, err := encodeJSON(enquiry.Tags)
	if err != nil {
		return Enquiry{}, fmt.Errorf("encode tags: %w", err)
	}
	links, err := encodeJSON(enquiry.Links)
	if err != nil {
		return Enquiry{}, fmt.Errorf("encode links: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO enquiries
        (id, full_name, email, company, project_type, idea, budget, timeline, status,
         notes, tags_json, assignee, due_date, links_json, spam, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		enquiry.ID,
		enquiry.FullName,
		enquiry.Email,
		enquiry.Company,
		enquiry.ProjectType,
		enquiry.Idea,
		enquiry.Budget,
		enquiry.Timeline,
		enquiry.Status,
		enquiry.Notes,
		tags,
		enquiry.Assignee,
		enquiry.DueDate,
		links,
		boolInt(enquiry.Spam),
		enquiry.CreatedAt.UnixMilli(),
		enquiry.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return Enquiry{}, fmt.Errorf("insert enquiry: %w", err)
	}
	return enquiry, nil
}

func (s *Store) GetEnquiry(ctx context.Context, id string) (Enquiry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+enquiryColumns+` FROM enquiries WHERE id = ?;`, id)
	enquiry, err := scanEnquiry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enquiry{}, ErrNotFound
		}
		return Enquiry{}, fmt.Errorf("get enquiry: %w", err)
	}
	return enquiry, nil
}

// ListEnquiries returns enquiries newest first.
func (s *Store) ListEnquiries(ctx context.Context, filter EnquiryFilter) ([]Enquiry, error) {
	clauses := []string{}
	args := []any{}
	if status := strings.TrimSpace(filter.Status); status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		clauses = append(clauses, `(full_name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\' OR company LIKE ? ESCAPE '\' OR idea LIKE ? ESCAPE '\')`)
		term := likePattern(search)
		args = append(args, term, term, term, term)
	}
	whereQuery := ""
	if len(clauses) > 0 {
		whereQuery = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+enquiryColumns+` FROM enquiries`+whereQuery+
		` ORDER BY created_at DESC, id DESC;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list enquiries: %w", err)
	}
	defer rows.Close()

	enquiries := []Enquiry{}
	for rows.Next() {
		enquiry, err := scanEnquiry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enquiry: %w", err)
		}
		enquiries = append(enquiries, enquiry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enquiries: %w", err)
	}
	return enquiries, nil
}

// UpdateEnquiry merges patch into the stored enquiry.
func (s *Store) UpdateEnquiry(ctx context.Context, id string, patch EnquiryPatch) (Enquiry, error) {
	enquiry, err := s.GetEnquiry(ctx, id)
	if err != nil {
		return Enquiry{}, err
	}
	applyString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	applyString(&enquiry.FullName, patch.FullName)
	applyString(&enquiry.Email, patch.Email)
	applyString(&enquiry.Company, patch.Company)
	applyString(&enquiry.ProjectType, patch.ProjectType)
	applyString(&enquiry.Budget, patch.Budget)
	applyString(&enquiry.Timeline, patch.Timeline)
	applyString(&enquiry.Status, patch.Status)
	applyString(&enquiry.Assignee, patch.Assignee)
	applyString(&enquiry.DueDate, patch.DueDate)
	if patch.Idea != nil {
		enquiry.Idea = *patch.Idea
	}
	if patch.Notes != nil {
		enquiry.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		enquiry.Tags = nonNil(*patch.Tags)
	}
	if patch.Links != nil {
		enquiry.Links = nonNil(*patch.Links)
	}
	if patch.Spam != nil {
		enquiry.Spam = *patch.Spam
	}
	if err := validateEnquiry(enquiry); err != nil {
		return Enquiry{}, err
	}
	enquiry.UpdatedAt = s.now().UTC()

	tags, err := encodeJSON(enquiry.Tags)
	if err != nil {
		return Enquiry{}, fmt.Errorf("encode tags: %w", err)
	}
	links, err := encodeJSON(enquiry.Links)
	if err != nil {
		return Enquiry{}, fmt.Errorf("encode links: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE enquiries SET
        full_name = ?, email = ?, company = ?, project_type = ?, idea = ?, budget = ?, timeline = ?,
        status = ?, notes = ?, tags_json = ?, assignee = ?, due_date = ?, links_json = ?, spam = ?, updated_at = ?
        WHERE id = ?;`,
		enquiry.FullName,
		enquiry.Email,
		enquiry.Company,
		enquiry.ProjectType,
		enquiry.Idea,
		enquiry.Budget,
		enquiry.Timeline,
		enquiry.Status,
		enquiry.Notes,
		tags,
		enquiry.Assignee,
		enquiry.DueDate,
		links,
		boolInt(enquiry.Spam),
		enquiry.UpdatedAt.UnixMilli(),
		id,
	)
	if err != nil {
		return Enquiry{}, fmt.Errorf("update enquiry: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return Enquiry{}, fmt.Errorf("update enquiry: %w", err)
	} else if affected == 0 {
		return Enquiry{}, ErrNotFound
	}
	return enquiry, nil
}

func (s *Store) DeleteEnquiry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM enquiries WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete enquiry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enquiry: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func validateEnquiry(enquiry Enquiry) error {
	if strings.TrimSpace(enquiry.FullName) == "" {
		return &ValidationError{Field: "fullName", Message: "is required"}
	}
	if strings.TrimSpace(enquiry.Email) == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if !ValidEnquiryStatus(enquiry.Status) {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("must be one of %s", strings.Join(EnquiryStatuses, ", "))}
	}
	return nil
}

func scanEnquiry(row scanner) (Enquiry, error) {
	var (
		enquiry              Enquiry
		tagsJSON, linksJSON  string
		spam                 int
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&enquiry.ID,
		&enquiry.FullName,
		&enquiry.Email,
		&enquiry.Company,
		&enquiry.ProjectType,
		&enquiry.Idea,
		&enquiry.Budget,
		&enquiry.Timeline,
		&enquiry.Status,
		&enquiry.Notes,
		&tagsJSON,
		&enquiry.Assignee,
		&enquiry.DueDate,
		&linksJSON,
		&spam,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Enquiry{}, err
	}
	var err error
	if enquiry.Tags, err = decodeJSON(tagsJSON, []string{}); err != nil {
		return Enquiry{}, fmt.Errorf("decode tags: %w", err)
	}
	if enquiry.Links, err = decodeJSON(linksJSON, []string{}); err != nil {
		return Enquiry{}, fmt.Errorf("decode links: %w", err)
	}
	enquiry.Tags = nonNil(enquiry.Tags)
	enquiry.Links = nonNil(enquiry.Links)
	enquiry.Spam = spam != 0
	enquiry.CreatedAt = fromMillis(createdAt)
	enquiry.UpdatedAt = fromMillis(updatedAt)
	return enquiry, nil
}
