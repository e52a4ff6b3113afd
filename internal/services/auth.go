package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const minPasswordLen = 8

// AuthService owns registration, login, and token verification. Tokens are
// stateless HS256 JWTs carrying the user id as subject; there is no refresh
// or server-side session state.
type AuthService interface {
	RegisterUser(ctx context.Context, user *types.User) error
	LoginUser(ctx context.Context, email, password string) (string, *types.User, error)
	// SetContextFromToken verifies the token and returns a context carrying
	// requestdata for the authenticated user.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	users        repos.UserRepo
	jwtSecretKey string
	accessTTL    time.Duration
	log          *logger.Logger
}

func NewAuthService(users repos.UserRepo, jwtSecretKey string, accessTTL time.Duration, baseLog *logger.Logger) AuthService {
	return &authService{
		users:        users,
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
		log:          baseLog.With("service", "AuthService"),
	}
}

func (as *authService) RegisterUser(ctx context.Context, user *types.User) error {
	if user == nil {
		return fmt.Errorf("%w: user required", apperr.ErrValidation)
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.FirstName = strings.TrimSpace(user.FirstName)
	user.LastName = strings.TrimSpace(user.LastName)

	if user.Email == "" || !strings.Contains(user.Email, "@") {
		return fmt.Errorf("%w: a valid email is required", apperr.ErrValidation)
	}
	if len(user.Password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}

	dbc := dbctx.New(ctx)
	existing, err := as.users.GetByEmail(dbc, user.Email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: email already in use", apperr.ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.Password = string(hashed)

	if _, err := as.users.Create(dbc, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	as.log.Info("User registered", "user_id", user.ID)
	return nil
}

func (as *authService) LoginUser(ctx context.Context, email, password string) (string, *types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, fmt.Errorf("%w: email and password are required", apperr.ErrValidation)
	}

	user, err := as.users.GetByEmail(dbctx.New(ctx), email)
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return "", nil, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}

	token, err := as.generateAccessToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("generate access token: %w", err)
	}
	return token, user, nil
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, fmt.Errorf("%w: missing token", apperr.ErrUnauthorized)
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return ctx, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return ctx, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("%w: invalid subject", apperr.ErrUnauthorized)
	}
	return requestdata.WithRequestData(ctx, &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
