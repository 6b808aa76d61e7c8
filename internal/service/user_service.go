package service

import (
	"context"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/auth"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// UserService registers accounts and issues access tokens.
type UserService struct {
	repo       store.Repository
	tokens     *auth.TokenIssuer
	bcryptCost int
	logger     *zap.Logger
}

func NewUserService(repo store.Repository, tokens *auth.TokenIssuer, bcryptCost int) *UserService {
	return &UserService{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     util.GetLogger(),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=customer seller"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by login.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *models.User `json:"user"`
}

// Register creates a customer or seller account. Admins are provisioned
// through ordersctl.
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = models.RoleCustomer
	}
	return s.CreateUser(ctx, req.Email, req.Password, role)
}

// CreateUser stores an account with any role.
func (s *UserService) CreateUser(ctx context.Context, email, password, role string) (*models.User, error) {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal(err, "failed to hash password")
	}
	u := &models.User{Email: email, PasswordHash: hash, Role: role}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("User registered", zap.Int64("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

func (s *UserService) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	token, err := s.tokens.Generate(u.ID, u.Role)
	if err != nil {
		return nil, apperr.Internal(err, "failed to issue token")
	}
	return &TokenResponse{AccessToken: token, TokenType: "Bearer", User: u}, nil
}
