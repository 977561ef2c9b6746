package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/errdefs"
	"github.com/ezbridge/bridge/internal/metrics"
	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/util"
)

// AuthService backs the portal: account setup, login and validation of
// domain-scoped sessions. Tokens are JWTs whose ID references a persisted
// Session row, so deleting the account or the session revokes the token.
type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

func NewAuthService(db *gorm.DB, secret string, ttl time.Duration) *AuthService {
	return &AuthService{db: db, secret: []byte(secret), ttl: ttl}
}

type sessionClaims struct {
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// SetupAllowed reports whether the one-time setup endpoint is still open,
// which is the case only while no account exists.
func (s *AuthService) SetupAllowed() (bool, error) {
	var count int64
	if err := s.db.Model(&models.Account{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// Setup creates the first account. Permanently rejected once any account
// exists.
func (s *AuthService) Setup(username, password string) (*models.Account, error) {
	open, err := s.SetupAllowed()
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, fmt.Errorf("%w: setup already completed", errdefs.ErrConflict)
	}
	return s.createAccount(username, password)
}

// CreateAccount adds an account after setup, for use by authenticated admins.
func (s *AuthService) CreateAccount(username, password string) (*models.Account, error) {
	return s.createAccount(username, password)
}

func (s *AuthService) createAccount(username, password string) (*models.Account, error) {
	if username == "" || len(password) < 8 {
		return nil, fmt.Errorf("%w: username required and password must be at least 8 characters", errdefs.ErrValidation)
	}

	account := &models.Account{Username: username}
	if err := account.SetPassword(password); err != nil {
		return nil, err
	}
	if err := s.db.Create(account).Error; err != nil {
		return nil, fmt.Errorf("%w: username taken", errdefs.ErrConflict)
	}
	return account, nil
}

// ListAccounts returns all portal accounts.
func (s *AuthService) ListAccounts() ([]models.Account, error) {
	var accounts []models.Account
	return accounts, s.db.Order("id asc").Find(&accounts).Error
}

// DeleteAccount removes an account and all of its sessions, which revokes
// every token issued to it.
func (s *AuthService) DeleteAccount(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Account{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: account %d", errdefs.ErrNotFound, id)
		}
		return nil
	})
}

// Login verifies credentials and issues a session token scoped to one domain.
// The error never reveals whether the username or the password was wrong.
func (s *AuthService) Login(username, password, domain string) (string, error) {
	domain = util.NormalizeDomain(domain)

	var account models.Account
	err := s.db.Where("username = ?", username).First(&account).Error
	if err != nil || !account.CheckPassword(password) {
		metrics.IncPortalLogin("denied")
		return "", fmt.Errorf("%w: invalid credentials", errdefs.ErrAuth)
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		Domain:    domain,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.db.Create(session).Error; err != nil {
		return "", err
	}

	claims := sessionClaims{
		Domain: domain,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   account.UUID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}

	metrics.IncPortalLogin("ok")
	return token, nil
}

// Validate checks a session token against a domain. It fails if the token is
// malformed or expired, scoped to a different domain, the session row is
// gone, or the account was deleted after issuance.
func (s *AuthService) Validate(token, domain string) (*models.Account, error) {
	domain = util.NormalizeDomain(domain)

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid session", errdefs.ErrAuth)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid session", errdefs.ErrAuth)
	}
	if claims.Domain != domain {
		return nil, fmt.Errorf("%w: session not valid for this host", errdefs.ErrAuth)
	}

	var session models.Session
	if err := s.db.Where("id = ?", claims.ID).First(&session).Error; err != nil {
		return nil, fmt.Errorf("%w: invalid session", errdefs.ErrAuth)
	}
	if session.Expired() || session.Domain != domain {
		return nil, fmt.Errorf("%w: invalid session", errdefs.ErrAuth)
	}

	var account models.Account
	if err := s.db.First(&account, session.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", errdefs.ErrAuth)
		}
		return nil, err
	}
	return &account, nil
}

// PruneSessions deletes expired session rows, run periodically.
func (s *AuthService) PruneSessions() error {
	return s.db.Where("expires_at < ?", time.Now()).Delete(&models.Session{}).Error
}
