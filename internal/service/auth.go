package service

import (
	"context"

	"messenger/internal/config"
	"messenger/pkg/jwt"
	"messenger/pkg/logger"
)

// Identity - личность, извлеченная из bearer-токена identity-сервиса.
// Пользователей мы не храним: выпуск токенов и учетки - забота
// внешнего identity-сервиса, здесь только проверка подписи.
type Identity struct {
	UserID string
	Email  string
}

type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*Identity, error)
}

type authService struct {
	jwtCfg config.JWTConfig
	log    logger.Logger
}

func NewAuthService(jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{jwtCfg: jwtCfg, log: log}
}

func (s *authService) ValidateToken(_ context.Context, tokenString string) (*Identity, error) {
	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.Secret)
	if err != nil {
		return nil, err
	}

	return &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
	}, nil
}
