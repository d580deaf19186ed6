package auth

import (
	"errors"

	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
)

// Service checks the operator password and manages session tokens. When
// disabled it issues no tokens and the API mounts no auth middleware.
type Service struct {
	cfg    config.AuthConfig
	tokens *Manager
	logger zerolog.Logger
}

// NewService validates the auth configuration and builds the service.
func NewService(cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if cfg.JWTSecret == "" {
			return nil, errors.New("auth is enabled but the jwt secret is empty")
		}
		if cfg.PasswordHash == "" {
			return nil, errors.New("auth is enabled but the password hash is empty")
		}
	}
	return &Service{
		cfg:    cfg,
		tokens: NewManager(cfg.JWTSecret, cfg.TokenDuration),
		logger: logger.With().Str("component", "auth").Logger(),
	}, nil
}

// Enabled reports whether the API requires a session token.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Login checks the operator password and issues a session token.
func (s *Service) Login(password string) (*Token, error) {
	if !s.cfg.Enabled {
		return nil, errors.New("authentication is disabled")
	}
	if !VerifyPassword(s.cfg.PasswordHash, password) {
		s.logger.Warn().Msg("Login rejected: bad password")
		return nil, ErrBadCredentials
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("expires_in", token.ExpiresIn).Msg("Operator logged in")
	return token, nil
}

// Validate verifies a bearer token string.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	return s.tokens.Validate(tokenString)
}
