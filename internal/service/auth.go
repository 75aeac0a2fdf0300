package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/repository"
	"github.com/Gopher0727/TimeChat/middleware/jwt"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest represents a profile update; empty fields are kept.
type UpdateProfileRequest struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string            `json:"token"`
	User  model.UserSummary `json:"user"`
}

// IAuthService defines the interface for authentication operations
type IAuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	Logout(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*model.User, error)
}

// AuthService implements the IAuthService interface
type AuthService struct {
	Deps
	tokenManager *jwt.TokenManager
}

// NewAuthService creates a new AuthService instance
func NewAuthService(deps Deps, tokenManager *jwt.TokenManager) *AuthService {
	deps.withDefaults()
	return &AuthService{Deps: deps, tokenManager: tokenManager}
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 50 {
		return "", errs.Validation("name must be between 1 and 50 characters")
	}
	return name, nil
}

// Register creates an account and signs the user in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	name, err := validName(req.Name)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		return nil, errs.Validation("email is not valid")
	}
	if len(req.Password) < 6 {
		return nil, errs.Validation("password must be at least 6 characters")
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		return nil, errs.Upstream("failed to hash password", err)
	}
	now := s.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hashedPassword,
		IsOnline:     true,
		LastSeen:     &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, errs.Upstream("failed to create user", err)
	}
	s.Logger.Info("user registered", zap.String("user_id", user.ID))
	return s.respond(user)
}

// Login verifies credentials, marks the user online and issues a token.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.Users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, notFoundOr(err, ErrInvalidCredentials, "failed to find user")
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.Now()
	if err := s.Users.SetPresence(ctx, user.ID, true, now); err != nil {
		return nil, errs.Upstream("failed to update presence", err)
	}
	user.IsOnline = true
	user.LastSeen = &now
	return s.respond(user)
}

func (s *AuthService) respond(user *model.User) (*AuthResponse, error) {
	token, err := s.tokenManager.GenerateToken(user.ID, user.Name, user.Email)
	if err != nil {
		return nil, errs.Upstream("failed to generate token", err)
	}
	return &AuthResponse{Token: token, User: user.Summary()}, nil
}

// Logout marks the user offline.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.Users.SetPresence(ctx, userID, false, s.Now()); err != nil {
		return notFoundOr(err, ErrUserNotFound, "failed to update presence")
	}
	return nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "failed to find user")
	}
	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*model.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if user.Name, err = validName(req.Name); err != nil {
			return nil, err
		}
	}
	if req.AvatarURL != "" {
		user.AvatarURL = strings.TrimSpace(req.AvatarURL)
	}
	user.UpdatedAt = s.Now()
	if err := s.Users.Update(ctx, user); err != nil {
		return nil, errs.Upstream("failed to update user", err)
	}
	return user, nil
}

// hashPassword hashes a plain text password using bcrypt
func hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// verifyPassword compares a hashed password with a plain text password
func verifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
