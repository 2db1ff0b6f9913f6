package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/townin/geocore/internal/core/domain"
)

// FamilyRepo implements ports.FamilyMemberRepository with pgx. The unique
// index on member_token is the global uniqueness arbiter across users.
type FamilyRepo struct {
	db *DB
}

// NewFamilyRepo creates a new FamilyRepo.
func NewFamilyRepo(db *DB) *FamilyRepo {
	return &FamilyRepo{db: db}
}

const familyColumns = `
	id, user_id, member_token, relationship,
	COALESCE(birth_year, 0), COALESCE(gender, ''), COALESCE(nickname, ''),
	sensor_enabled, notify_enabled, is_active, created_at, updated_at`

// Insert creates a new member row. A token collision surfaces as
// domain.ErrDuplicateMember.
func (r *FamilyRepo) Insert(ctx context.Context, m *domain.FamilyMember) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO family_members (user_id, member_token, relationship, birth_year,
		                            gender, nickname, sensor_enabled, notify_enabled, is_active)
		VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, m.UserID, m.MemberToken, m.Relationship, m.BirthYear,
		m.Gender, m.Nickname, m.SensorEnabled, m.NotifyEnabled, m.Active).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: token %s", domain.ErrDuplicateMember, m.MemberToken)
	}
	return err
}

// Update rewrites the mutable columns of a member.
func (r *FamilyRepo) Update(ctx context.Context, m *domain.FamilyMember) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE family_members
		SET nickname = NULLIF($2, ''), sensor_enabled = $3, notify_enabled = $4,
		    updated_at = now()
		WHERE id = $1
	`, m.ID, m.Nickname, m.SensorEnabled, m.NotifyEnabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", domain.ErrNotFound, m.ID)
	}
	return nil
}

// GetByID returns a member by UUID.
func (r *FamilyRepo) GetByID(ctx context.Context, id string) (*domain.FamilyMember, error) {
	var m domain.FamilyMember
	err := r.db.Pool.QueryRow(ctx, `
		SELECT `+familyColumns+` FROM family_members WHERE id = $1
	`, id).Scan(
		&m.ID, &m.UserID, &m.MemberToken, &m.Relationship,
		&m.BirthYear, &m.Gender, &m.Nickname,
		&m.SensorEnabled, &m.NotifyEnabled, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: member %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByUser returns the user's active members.
func (r *FamilyRepo) ListByUser(ctx context.Context, userID string) ([]domain.FamilyMember, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+familyColumns+`
		FROM family_members
		WHERE user_id = $1 AND is_active
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.FamilyMember
	for rows.Next() {
		var m domain.FamilyMember
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.MemberToken, &m.Relationship,
			&m.BirthYear, &m.Gender, &m.Nickname,
			&m.SensorEnabled, &m.NotifyEnabled, &m.Active, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// TokenExists reports whether a member token is already registered,
// including by deactivated members.
func (r *FamilyRepo) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM family_members WHERE member_token = $1)
	`, token).Scan(&exists)
	return exists, err
}

// Deactivate soft-deletes a member; the token stays reserved.
func (r *FamilyRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE family_members SET is_active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", domain.ErrNotFound, id)
	}
	return nil
}

// isUniqueViolation reports a Postgres 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
