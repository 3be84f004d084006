package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/pkg/jwt"
	"github.com/xxxsen/docqa/internal/pkg/password"
)

// AuthService exchanges a configured access key for a short lived token.
// There are no accounts: the admin key grants upload rights, the user key
// only querying.
type AuthService struct {
	adminKeyHash string
	userKeyHash  string
	jwtSecret    []byte
	jwtTTL       time.Duration
}

func NewAuthService(adminKeyHash, userKeyHash string, secret []byte, ttl time.Duration) *AuthService {
	return &AuthService{
		adminKeyHash: adminKeyHash,
		userKeyHash:  userKeyHash,
		jwtSecret:    secret,
		jwtTTL:       ttl,
	}
}

func (s *AuthService) IssueToken(ctx context.Context, key string) (string, string, error) {
	role := ""
	switch {
	case password.Matches(s.adminKeyHash, key):
		role = jwt.RoleAdmin
	case password.Matches(s.userKeyHash, key):
		role = jwt.RoleUser
	default:
		logutil.GetLogger(ctx).Warn("token requested with unknown key")
		return "", "", appErr.ErrUnauthorized
	}
	token, err := jwt.GenerateToken(role, role, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return "", "", err
	}
	logutil.GetLogger(ctx).Info("token issued", zap.String("role", role))
	return token, role, nil
}
