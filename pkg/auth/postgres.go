package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectStaff = `
	SELECT id, tenant_id, email, full_name, role, password_hash,
	       COALESCE(two_factor_secret, ''), status, doctor_id, created_at, updated_at
	FROM staff
`

func (s *PostgresStore) GetStaffByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*Staff, error) {
	query := selectStaff + `WHERE tenant_id = $1 AND lower(email) = lower($2)`
	return s.getStaff(ctx, query, tenantID, email)
}

func (s *PostgresStore) GetStaffByID(ctx context.Context, tenantID, staffID uuid.UUID) (*Staff, error) {
	query := selectStaff + `WHERE tenant_id = $1 AND id = $2`
	return s.getStaff(ctx, query, tenantID, staffID)
}

func (s *PostgresStore) getStaff(ctx context.Context, query string, args ...interface{}) (*Staff, error) {
	staff := &Staff{}
	var doctorID uuid.NullUUID
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&staff.ID, &staff.TenantID, &staff.Email, &staff.FullName, &staff.Role, &staff.PasswordHash,
		&staff.TwoFactorSecret, &staff.Status, &doctorID, &staff.CreatedAt, &staff.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	if doctorID.Valid {
		staff.DoctorID = &doctorID.UUID
	}
	return staff, nil
}

func (s *PostgresStore) UpdateStaffProfile(ctx context.Context, staff *Staff) error {
	query := `
		UPDATE staff
		SET full_name = $1, email = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, staff.FullName, staff.Email, staff.TenantID, staff.ID).Scan(&staff.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStaffNotFound
	}
	if isUniqueViolation(err) {
		return ErrEmailInUse
	}
	if err != nil {
		return fmt.Errorf("failed to update staff profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePasswordAndRevokeSessions(ctx context.Context, tenantID, staffID uuid.UUID, passwordHash string) (int64, error) {
	var revoked int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE staff SET password_hash = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`,
			passwordHash, tenantID, staffID,
		)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrStaffNotFound
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = TRUE WHERE tenant_id = $1 AND staff_id = $2 AND revoked = FALSE`,
			tenantID, staffID,
		)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		revoked, _ = result.RowsAffected()
		return nil
	})
	return revoked, err
}

func (s *PostgresStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	return insertRefreshToken(ctx, s.db, token)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token_hash, tenant_id, staff_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query,
		token.TokenHash, token.TenantID, token.StaffID, token.ExpiresAt, token.Revoked, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (s *PostgresStore) RotateRefreshToken(ctx context.Context, tenantID uuid.UUID, presentedHash string, replacement *RefreshToken, now time.Time) (*RefreshToken, error) {
	var old *RefreshToken
	var rejected error

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current := &RefreshToken{}
		err := tx.QueryRowContext(ctx, `
			SELECT token_hash, tenant_id, staff_id, expires_at, revoked, created_at
			FROM refresh_tokens
			WHERE token_hash = $1 AND tenant_id = $2
			FOR UPDATE
		`, presentedHash, tenantID).Scan(
			&current.TokenHash, &current.TenantID, &current.StaffID,
			&current.ExpiresAt, &current.Revoked, &current.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			rejected = ErrTokenNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock refresh token: %w", err)
		}

		if current.Revoked || current.Expired(now) {
			rejected = ErrTokenExpired
			if current.Revoked {
				rejected = ErrTokenRevoked
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, presentedHash); err != nil {
				return fmt.Errorf("failed to delete unusable refresh token: %w", err)
			}
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`, presentedHash); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}

		replacement.TenantID = current.TenantID
		replacement.StaffID = current.StaffID
		if err := insertRefreshToken(ctx, tx, replacement); err != nil {
			return err
		}

		current.Revoked = true
		old = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return old, nil
}

func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, tenantID uuid.UUID, tokenHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND tenant_id = $2 AND revoked = FALSE`,
		tokenHash, tenantID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, invitation *InvitationToken) error {
	query := `
		INSERT INTO invitation_tokens (token_hash, tenant_id, staff_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		invitation.TokenHash, invitation.TenantID, invitation.StaffID, invitation.ExpiresAt, invitation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumeInvitation(ctx context.Context, tenantID uuid.UUID, tokenHash, passwordHash string, now time.Time) (*InvitationToken, error) {
	var consumed *InvitationToken

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inv := &InvitationToken{}
		var usedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT token_hash, tenant_id, staff_id, expires_at, used_at, created_at
			FROM invitation_tokens
			WHERE token_hash = $1 AND tenant_id = $2
			FOR UPDATE
		`, tokenHash, tenantID).Scan(
			&inv.TokenHash, &inv.TenantID, &inv.StaffID, &inv.ExpiresAt, &usedAt, &inv.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvitationInvalid
		}
		if err != nil {
			return fmt.Errorf("failed to lock invitation: %w", err)
		}
		if usedAt.Valid {
			inv.UsedAt = &usedAt.Time
		}
		if !inv.IsValid(now) {
			return ErrInvitationInvalid
		}

		if _, err := tx.ExecContext(ctx, `UPDATE invitation_tokens SET used_at = $1 WHERE token_hash = $2`, now, tokenHash); err != nil {
			return fmt.Errorf("failed to mark invitation used: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE staff SET password_hash = $1, status = 'ACTIVE', updated_at = NOW() WHERE tenant_id = $2 AND id = $3`,
			passwordHash, tenantID, inv.StaffID,
		)
		if err != nil {
			return fmt.Errorf("failed to activate staff: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrInvitationInvalid
		}

		inv.UsedAt = &now
		consumed = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
