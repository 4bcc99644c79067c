package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 30
	minPasswordLength = 8
)

// SettingsUpdate holds the profile fields to change; nil means unchanged.
type SettingsUpdate struct {
	Volume   *int    `json:"volume,omitempty"`
	Language *string `json:"language,omitempty"`
	Username *string `json:"username,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

type UserService struct {
	log        *slog.Logger
	repo       domain.UserRepository
	verifier   contracts.Verifier
	txManager  contracts.TxManager
	autoVerify bool
	now        func() time.Time
}

func NewUserService(
	log *slog.Logger,
	repo domain.UserRepository,
	verifier contracts.Verifier,
	txManager contracts.TxManager,
	autoVerify bool,
) *UserService {
	return &UserService{
		log:        log,
		repo:       repo,
		verifier:   verifier,
		txManager:  txManager,
		autoVerify: autoVerify,
		now:        clock,
	}
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return domain.Validation(fmt.Sprintf("username must be %d to %d characters", minUsernameLength, maxUsernameLength))
	}
	if strings.ContainsAny(username, " \t\n,:") {
		return domain.Validation("username cannot contain spaces, commas or colons")
	}
	return nil
}

// Register creates an unverified account and sends the one-time key.
func (s *UserService) Register(ctx context.Context, email, username, password string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.Register")
	defer span.End()
	const op = "user - register"

	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fail(ctx, s.log, span, op, domain.Validation("a valid email is required"))
	}
	if err := validateUsername(username); err != nil {
		return nil, fail(ctx, s.log, span, op, err)
	}
	if len(password) < minPasswordLength {
		return nil, fail(ctx, s.log, span, op, domain.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength)))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, fmt.Errorf("hash password: %w", err))
	}

	user := domain.NewUser(email, username, string(hash), s.now())
	user.Verified = s.autoVerify
	err = s.txManager.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetUserByEmail(txCtx, email); err == nil {
			return domain.ErrEmailTaken
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if _, err := s.repo.GetUserByUsername(txCtx, username); err == nil {
			return domain.ErrUsernameTaken
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return s.repo.CreateUser(txCtx, user)
	})
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, "username", username)
	}
	span.SetAttributes(attribute.String("user_id", user.ID.Hex()))

	if !user.Verified {
		if err := s.verifier.SendVerification(ctx, email); err != nil {
			// the account exists; the key can be requested again
			return user, fail(ctx, s.log, span, op+" send verification", err, logging.User(user.ID.Hex()))
		}
	}
	s.log.InfoContext(ctx, op+" - success", logging.User(user.ID.Hex()), "verified", user.Verified)
	return user, nil
}

func (s *UserService) ResendVerification(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "UserService.ResendVerification")
	defer span.End()
	const op = "user - resend verification"

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fail(ctx, s.log, span, op, err)
	}
	if user.Verified {
		return fail(ctx, s.log, span, op, domain.Conflict("account is already verified"), logging.User(user.ID.Hex()))
	}
	if err := s.verifier.SendVerification(ctx, user.Email); err != nil {
		return fail(ctx, s.log, span, op, err, logging.User(user.ID.Hex()))
	}
	return nil
}

// Verify checks the one-time key and marks the account verified.
func (s *UserService) Verify(ctx context.Context, email, code string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.Verify")
	defer span.End()
	const op = "user - verify"

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err)
	}
	if user.Verified {
		return user, nil
	}
	ok, err := s.verifier.CheckVerification(ctx, user.Email, strings.TrimSpace(code))
	if err != nil {
		return nil, fail(ctx, s.log, span, op, fmt.Errorf("verification service error: %w", err), logging.User(user.ID.Hex()))
	}
	if !ok {
		return nil, fail(ctx, s.log, span, op, domain.ErrInvalidVerification, logging.User(user.ID.Hex()))
	}
	if err := s.repo.MarkVerified(ctx, user.ID); err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.User(user.ID.Hex()))
	}
	user.Verified = true
	s.log.InfoContext(ctx, op+" - success", logging.User(user.ID.Hex()))
	return user, nil
}

// Login returns the same error for an unknown email and a wrong password.
func (s *UserService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.Login")
	defer span.End()
	const op = "user - login"

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail(ctx, s.log, span, op, domain.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, fail(ctx, s.log, span, op, domain.ErrInvalidCredentials, logging.User(user.ID.Hex()))
	}
	if !user.Verified {
		return nil, fail(ctx, s.log, span, op, domain.ErrUnverifiedAccount, logging.User(user.ID.Hex()))
	}
	return user, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID primitive.ObjectID) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.GetProfile", trace.WithAttributes(
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fail(ctx, s.log, span, "user - get profile", err, logging.User(userID.Hex()))
	}
	return user, nil
}

func (s *UserService) UpdateSettings(ctx context.Context, userID primitive.ObjectID, update SettingsUpdate) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.UpdateSettings", trace.WithAttributes(
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()
	const op = "user - update settings"

	var user *domain.User
	err := s.txManager.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if user, err = s.repo.GetUserByID(txCtx, userID); err != nil {
			return err
		}
		if update.Volume != nil {
			if *update.Volume < 0 || *update.Volume > 100 {
				return domain.Validation("volume must be between 0 and 100")
			}
			user.Volume = *update.Volume
		}
		if update.Language != nil {
			lang := strings.TrimSpace(*update.Language)
			if lang == "" || len(lang) > 10 {
				return domain.Validation("invalid language")
			}
			user.Language = lang
		}
		if update.Avatar != nil {
			avatar := strings.TrimSpace(*update.Avatar)
			if avatar == "" {
				user.Avatar = nil
			} else {
				user.Avatar = &avatar
			}
		}
		if update.Username != nil {
			username := strings.TrimSpace(*update.Username)
			if username != user.Username {
				if err := validateUsername(username); err != nil {
					return err
				}
				if _, err := s.repo.GetUserByUsername(txCtx, username); err == nil {
					return domain.ErrUsernameTaken
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				user.Username = username
			}
		}
		user.UpdatedAt = s.now()
		return s.repo.UpdateUser(txCtx, user)
	})
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.User(userID.Hex()))
	}
	return user, nil
}

func (s *UserService) UpdateAvatar(ctx context.Context, userID primitive.ObjectID, url string) (*domain.User, error) {
	return s.UpdateSettings(ctx, userID, SettingsUpdate{Avatar: &url})
}

// DeleteAccount removes the account only. Chatrooms keep the id and show the
// user as a deleted account from then on.
func (s *UserService) DeleteAccount(ctx context.Context, userID primitive.ObjectID) error {
	ctx, span := tracer.Start(ctx, "UserService.DeleteAccount", trace.WithAttributes(
		attribute.String("user_id", userID.Hex()),
	))
	defer span.End()

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return fail(ctx, s.log, span, "user - delete account", err, logging.User(userID.Hex()))
	}
	s.log.InfoContext(ctx, "user - delete account - success", logging.User(userID.Hex()))
	return nil
}
