package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/platform/auth"
	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail        = errors.New("a valid email is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCompanyName  = errors.New("company name is required")
	ErrInvalidCompanyID    = errors.New("company_id is required")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("an account with this email already exists")
	ErrForbiddenCompany    = errors.New("user is not a member of the company")
	ErrForbiddenRole       = errors.New("insufficient permissions for this action")
	ErrForbiddenScope      = errors.New("calendar belongs to another user")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInviteNotFound      = errors.New("Invite not found or already used.")
	ErrInviteEmailMismatch = errors.New("Email does not match invite.")
)

type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      nuid.Next,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	e := normalizeEmail(email)
	if at := strings.IndexByte(e, '@'); at <= 0 || at == len(e)-1 {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func IsValidRole(role string) bool {
	switch strings.TrimSpace(role) {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

func canInvite(role string) bool {
	return role == RoleOwner || role == RoleAdmin
}

func (s *Service) newUser(email, password string) (User, error) {
	if err := validateCredentials(email, password); err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return User{ID: s.NewID(), Email: normalizeEmail(email), PasswordHash: string(hash)}, nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (AuthResponse, error) {
	u, err := s.newUser(email, password)
	if err != nil {
		return AuthResponse{}, err
	}
	if _, err := s.Repo.FindUserByEmail(ctx, u.Email); err == nil {
		return AuthResponse{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResponse{}, err
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (AuthResponse, error) {
	e := normalizeEmail(email)
	if e == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, e)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Repo.RevokeRefreshToken(ctx, session.TokenID)
}

func (s *Service) CreateCompany(ctx context.Context, actorUserID, name string) (Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Company{}, ErrInvalidCompanyName
	}
	c := Company{ID: s.NewID(), Name: name}
	if err := s.Repo.CreateCompany(ctx, c, actorUserID); err != nil {
		return Company{}, err
	}
	return c, nil
}

func (s *Service) ListCompanies(ctx context.Context, userID string) ([]Membership, error) {
	return s.Repo.ListCompaniesForUser(ctx, userID)
}

// CreateInvite lets an owner or admin invite email into companyID. Only the
// owner may invite admins.
func (s *Service) CreateInvite(ctx context.Context, actorUserID, companyID, email, role string) (Invite, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return Invite{}, ErrInvalidCompanyID
	}
	email = normalizeEmail(email)
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 {
		return Invite{}, ErrInvalidEmail
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = RoleMember
	}
	if !IsValidRole(role) || role == RoleOwner {
		return Invite{}, ErrInvalidRole
	}

	actorRole, err := s.EnsureMemberRole(ctx, actorUserID, companyID)
	if err != nil {
		return Invite{}, err
	}
	if !canInvite(actorRole) {
		return Invite{}, ErrForbiddenRole
	}
	if actorRole != RoleOwner && role == RoleAdmin {
		return Invite{}, ErrForbiddenRole
	}

	inv := Invite{
		Token:     s.NewID() + s.NewID(),
		Email:     email,
		CompanyID: companyID,
		Role:      role,
		CreatedBy: actorUserID,
		CreatedAt: s.Now(),
	}
	if err := s.Repo.CreateInvite(ctx, inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// LookupInvite returns the open invite behind token.
func (s *Service) LookupInvite(ctx context.Context, token string) (Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Invite{}, ErrInviteNotFound
	}
	inv, err := s.Repo.FindOpenInvite(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Invite{}, ErrInviteNotFound
	}
	return inv, err
}

// RedeemInvite creates the account for an invited email, joins it to the
// inviting company and signs it in.
func (s *Service) RedeemInvite(ctx context.Context, token, email, password string) (AuthResponse, error) {
	inv, err := s.LookupInvite(ctx, token)
	if err != nil {
		return AuthResponse{}, err
	}
	if !strings.EqualFold(inv.Email, normalizeEmail(email)) {
		return AuthResponse{}, ErrInviteEmailMismatch
	}
	u, err := s.newUser(email, password)
	if err != nil {
		return AuthResponse{}, err
	}
	if _, err := s.Repo.RedeemInvite(ctx, inv.Token, u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInviteNotFound
		}
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) EnsureMemberRole(ctx context.Context, userID, companyID string) (string, error) {
	if strings.TrimSpace(companyID) == "" {
		return "", ErrInvalidCompanyID
	}
	role, err := s.Repo.GetMembershipRole(ctx, userID, companyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrForbiddenCompany
		}
		return "", err
	}
	return role, nil
}

// AuthorizeScope checks that userID may see and edit the calendar of scope.
func (s *Service) AuthorizeScope(ctx context.Context, userID string, scope calendar.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	switch scope.Kind {
	case calendar.ScopeOwner:
		if scope.ID != userID {
			return ErrForbiddenScope
		}
		return nil
	default:
		_, err := s.EnsureMemberRole(ctx, userID, scope.ID)
		return err
	}
}

func (s *Service) issueSession(ctx context.Context, user User) (AuthResponse, error) {
	accessToken, err := s.AuthToken.Sign(user.ID, user.Email)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewID() + "." + s.NewID()
	session := RefreshToken{
		TokenID:   s.NewID(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, session); err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    s.AuthToken.Now().Add(s.AuthToken.TTL),
		UserID:       user.ID,
		Email:        user.Email,
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewTokenManager(secret string, ttl time.Duration) auth.Manager {
	return auth.NewManager(secret, ttl)
}
