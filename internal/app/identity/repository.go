package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
}

type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Membership struct {
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name"`
	Role        string `json:"role"`
}

// Invite lets one email address join a company once.
type Invite struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	Accepted  bool      `json:"accepted"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type RefreshToken struct {
	TokenID   string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	CreateUser(ctx context.Context, user User) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)

	CreateCompany(ctx context.Context, company Company, ownerUserID string) error
	GetMembershipRole(ctx context.Context, userID, companyID string) (string, error)
	ListCompaniesForUser(ctx context.Context, userID string) ([]Membership, error)

	CreateInvite(ctx context.Context, invite Invite) error
	// FindOpenInvite returns an invite that has not been accepted yet.
	FindOpenInvite(ctx context.Context, token string) (Invite, error)
	// RedeemInvite creates user, adds the membership and marks the invite
	// accepted as one unit. It returns ErrNotFound when the invite is gone or
	// was accepted concurrently.
	RedeemInvite(ctx context.Context, token string, user User) (Invite, error)

	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID string) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  email text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCompaniesSQL = `
CREATE TABLE IF NOT EXISTS companies (
  id text PRIMARY KEY,
  name text NOT NULL,
  created_by text NOT NULL REFERENCES users(id),
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCompanyMembersSQL = `
CREATE TABLE IF NOT EXISTS company_members (
  company_id text NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  role text NOT NULL DEFAULT 'member',
  added_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (company_id, user_id)
)`

const createInvitesSQL = `
CREATE TABLE IF NOT EXISTS invites (
  token text PRIMARY KEY,
  email text NOT NULL,
  company_id text NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
  role text NOT NULL DEFAULT 'member',
  accepted boolean NOT NULL DEFAULT false,
  created_by text NOT NULL REFERENCES users(id),
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createRefreshTokensSQL = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  token_id text PRIMARY KEY,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  revoked_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createUsersSQL, createCompaniesSQL, createCompanyMembersSQL, createInvitesSQL, createRefreshTokensSQL} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.PasswordHash,
	)
	return err
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, `SELECT id, email, password_hash FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, `SELECT id, email, password_hash FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) findUser(ctx context.Context, query, arg string) (User, error) {
	var u User
	err := r.Pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) CreateCompany(ctx context.Context, company Company, ownerUserID string) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO companies (id, name, created_by) VALUES ($1, $2, $3)`,
		company.ID, company.Name, ownerUserID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO company_members (company_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (company_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		company.ID, ownerUserID, RoleOwner,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetMembershipRole(ctx context.Context, userID, companyID string) (string, error) {
	var role string
	err := r.Pool.QueryRow(ctx,
		`SELECT role FROM company_members WHERE company_id = $1 AND user_id = $2`,
		companyID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}

func (r *PostgresRepository) ListCompaniesForUser(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT c.id, c.name, cm.role
		 FROM companies c
		 INNER JOIN company_members cm ON cm.company_id = c.id
		 WHERE cm.user_id = $1
		 ORDER BY c.created_at DESC`,
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return companies, nil
}

func (r *PostgresRepository) CreateInvite(ctx context.Context, invite Invite) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO invites (token, email, company_id, role, created_by) VALUES ($1, $2, $3, $4, $5)`,
		invite.Token, invite.Email, invite.CompanyID, invite.Role, invite.CreatedBy,
	)
	return err
}

const selectInviteSQL = `SELECT token, email, company_id, role, accepted, created_by, created_at FROM invites`

func scanInvite(row pgx.Row) (Invite, error) {
	var inv Invite
	err := row.Scan(&inv.Token, &inv.Email, &inv.CompanyID, &inv.Role, &inv.Accepted, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return inv, nil
}

func (r *PostgresRepository) FindOpenInvite(ctx context.Context, token string) (Invite, error) {
	return scanInvite(r.Pool.QueryRow(ctx, selectInviteSQL+` WHERE token = $1 AND NOT accepted`, token))
}

func (r *PostgresRepository) RedeemInvite(ctx context.Context, token string, user User) (Invite, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Invite{}, err
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvite(tx.QueryRow(ctx, selectInviteSQL+` WHERE token = $1 AND NOT accepted FOR UPDATE`, token))
	if err != nil {
		return Invite{}, err
	}
	if !strings.EqualFold(inv.Email, user.Email) {
		return Invite{}, ErrInviteEmailMismatch
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.PasswordHash,
	); err != nil {
		return Invite{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO company_members (company_id, user_id, role) VALUES ($1, $2, $3)`,
		inv.CompanyID, user.ID, inv.Role,
	); err != nil {
		return Invite{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE invites SET accepted = true WHERE token = $1`, token); err != nil {
		return Invite{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Invite{}, err
	}
	inv.Accepted = true
	return inv, nil
}

func (r *PostgresRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		token.TokenID, token.UserID, token.TokenHash, token.ExpiresAt,
	)
	return err
}

func (r *PostgresRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rt RefreshToken
	err := r.Pool.QueryRow(ctx,
		`SELECT token_id, user_id, token_hash, expires_at, revoked_at
		 FROM refresh_tokens
		 WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
		tokenHash,
	).Scan(&rt.TokenID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return rt, nil
}

func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := r.Pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE token_id = $1`,
		tokenID,
	)
	return err
}
