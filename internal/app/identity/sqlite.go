package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`,
	`CREATE TABLE IF NOT EXISTS companies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_by TEXT NOT NULL REFERENCES users(id),
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`,
	`CREATE TABLE IF NOT EXISTS company_members (
  company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  role TEXT NOT NULL DEFAULT 'member',
  PRIMARY KEY (company_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS invites (
  token TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
  role TEXT NOT NULL DEFAULT 'member',
  accepted INTEGER NOT NULL DEFAULT 0,
  created_by TEXT NOT NULL REFERENCES users(id),
  created_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
  token_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL UNIQUE,
  expires_at INTEGER NOT NULL,
  revoked_at INTEGER
)`,
}

// SQLiteRepository keeps accounts in the local database of the single-user
// variant. Timestamps are stored as unix seconds.
type SQLiteRepository struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash,
	)
	return err
}

func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, `SELECT id, email, password_hash FROM users WHERE email = ?`, email)
}

func (r *SQLiteRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, `SELECT id, email, password_hash FROM users WHERE id = ?`, userID)
}

func (r *SQLiteRepository) findUser(ctx context.Context, query, arg string) (User, error) {
	var u User
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *SQLiteRepository) CreateCompany(ctx context.Context, company Company, ownerUserID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO companies (id, name, created_by) VALUES (?, ?, ?)`,
		company.ID, company.Name, ownerUserID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO company_members (company_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (company_id, user_id) DO UPDATE SET role = excluded.role`,
		company.ID, ownerUserID, RoleOwner,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetMembershipRole(ctx context.Context, userID, companyID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx,
		`SELECT role FROM company_members WHERE company_id = ? AND user_id = ?`,
		companyID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

func (r *SQLiteRepository) ListCompaniesForUser(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT c.id, c.name, cm.role
		 FROM companies c
		 INNER JOIN company_members cm ON cm.company_id = c.id
		 WHERE cm.user_id = ?
		 ORDER BY c.created_at DESC, c.id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CompanyID, &m.CompanyName, &m.Role); err != nil {
			return nil, err
		}
		companies = append(companies, m)
	}
	return companies, rows.Err()
}

func (r *SQLiteRepository) CreateInvite(ctx context.Context, invite Invite) error {
	createdAt := invite.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.Now()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO invites (token, email, company_id, role, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		invite.Token, invite.Email, invite.CompanyID, invite.Role, invite.CreatedBy, createdAt.Unix(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInvite(row rowScanner) (Invite, error) {
	var (
		inv       Invite
		createdAt int64
	)
	err := row.Scan(&inv.Token, &inv.Email, &inv.CompanyID, &inv.Role, &inv.Accepted, &inv.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, err
	}
	inv.CreatedAt = time.Unix(createdAt, 0).UTC()
	return inv, nil
}

func (r *SQLiteRepository) FindOpenInvite(ctx context.Context, token string) (Invite, error) {
	return scanSQLiteInvite(r.DB.QueryRowContext(ctx,
		`SELECT token, email, company_id, role, accepted, created_by, created_at
		 FROM invites WHERE token = ? AND accepted = 0`, token))
}

func (r *SQLiteRepository) RedeemInvite(ctx context.Context, token string, user User) (Invite, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Invite{}, err
	}
	defer tx.Rollback()

	inv, err := scanSQLiteInvite(tx.QueryRowContext(ctx,
		`SELECT token, email, company_id, role, accepted, created_by, created_at
		 FROM invites WHERE token = ? AND accepted = 0`, token))
	if err != nil {
		return Invite{}, err
	}
	if !strings.EqualFold(inv.Email, user.Email) {
		return Invite{}, ErrInviteEmailMismatch
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash,
	); err != nil {
		return Invite{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO company_members (company_id, user_id, role) VALUES (?, ?, ?)`,
		inv.CompanyID, user.ID, inv.Role,
	); err != nil {
		return Invite{}, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE invites SET accepted = 1 WHERE token = ? AND accepted = 0`, token)
	if err != nil {
		return Invite{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Invite{}, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return Invite{}, err
	}
	inv.Accepted = true
	return inv, nil
}

func (r *SQLiteRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_at) VALUES (?, ?, ?, ?)`,
		token.TokenID, token.UserID, token.TokenHash, token.ExpiresAt.Unix(),
	)
	return err
}

func (r *SQLiteRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var (
		rt        RefreshToken
		expiresAt int64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT token_id, user_id, token_hash, expires_at
		 FROM refresh_tokens
		 WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		tokenHash, r.Now().Unix(),
	).Scan(&rt.TokenID, &rt.UserID, &rt.TokenHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, err
	}
	rt.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return rt, nil
}

func (r *SQLiteRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE token_id = ?`,
		r.Now().Unix(), tokenID,
	)
	return err
}
