package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/store"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const verificationTokenBytes = 32

// verificationRecord is stored under the token hash; the plain token only ever leaves in the email
type verificationRecord struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailVerificationService issues and redeems single-use email verification tokens
type EmailVerificationService struct {
	store          store.Store
	users          UserRepository
	sender         EmailSender
	logger         *slog.Logger
	tokenExpiry    time.Duration
	resendCooldown time.Duration
	now            func() time.Time
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(st store.Store, users UserRepository, sender EmailSender, logger *slog.Logger, tokenExpiry time.Duration) *EmailVerificationService {
	return &EmailVerificationService{
		store:          st,
		users:          users,
		sender:         sender,
		logger:         logger,
		tokenExpiry:    tokenExpiry,
		resendCooldown: 20 * time.Minute,
		now:            time.Now,
	}
}

// SetClock overrides the time source
func (s *EmailVerificationService) SetClock(now func() time.Time) {
	s.now = now
}

func hashVerificationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func pendingKey(email string) string { return store.PrefixEmailVerify + "pending:" + email }

// SendVerificationEmail generates a token, stores its hash and emails the plain token
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	plainToken, err := pkgauth.SecureToken(verificationTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Any("error", err))
		return fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := s.now().Add(s.tokenExpiry)
	record := verificationRecord{UserID: userID, Email: email, ExpiresAt: expiresAt}

	if err := s.store.Set(ctx, store.PrefixEmailVerify+hashVerificationToken(plainToken), record, s.tokenExpiry); err != nil {
		s.logger.Error("failed to store email verification token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to create token: %w", err)
	}
	if err := s.store.Set(ctx, pendingKey(email), userID, s.resendCooldown); err != nil {
		s.logger.Warn("failed to record resend cooldown", slog.String("user_id", userID), slog.Any("error", err))
	}

	if err := s.sender.SendVerificationEmail(ctx, email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", userID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent", slog.String("user_id", userID))
	return nil
}

// VerifyEmail redeems a token and marks the user's email as verified. Returns the user ID.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if plainToken == "" {
		s.logger.Warn("empty verification token provided")
		return "", models.ErrUnauthorized
	}

	key := store.PrefixEmailVerify + hashVerificationToken(plainToken)

	var record verificationRecord
	if err := s.store.Get(ctx, key, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("verification token not found or expired")
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to retrieve verification token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	// Delete before use so two concurrent redemptions cannot both succeed
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		s.logger.Error("failed to consume verification token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	if !deleted {
		s.logger.Warn("verification token already used", slog.String("user_id", record.UserID))
		return "", models.ErrUnauthorized
	}

	if !s.now().Before(record.ExpiresAt) {
		s.logger.Info("verification token expired",
			slog.String("user_id", record.UserID),
			slog.Time("expires_at", record.ExpiresAt))
		return "", models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		s.logger.Error("failed to retrieve user for email verification",
			slog.String("user_id", record.UserID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	user.EmailVerified = true
	if _, err := s.users.Update(ctx, user.ID, user); err != nil {
		s.logger.Error("failed to update user email verification status",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if _, err := s.store.Delete(ctx, pendingKey(user.Email)); err != nil {
		s.logger.Warn("failed to clear resend cooldown", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	return user.ID, nil
}

// ResendVerification sends a fresh token unless one went out within the cooldown.
// Unknown and already verified emails succeed silently to prevent enumeration.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	var pending string
	err := s.store.Get(ctx, pendingKey(email), &pending)
	if err == nil {
		s.logger.Info("resend rate limited", slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to check resend cooldown", slog.Any("error", err))
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil || user.EmailVerified {
		return nil
	}

	return s.SendVerificationEmail(ctx, user.ID, user.Email)
}

// IsEmailVerified reports the user's verification status
func (s *EmailVerificationService) IsEmailVerified(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.EmailVerified, nil
}
