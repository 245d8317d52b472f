package jwttoken

import (
	authmw "quotaguard/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes a JWTService as the auth middleware's validator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

// ValidateToken keeps only what quota identity needs: the account and the
// token id.
func (a *JWTServiceAdapter) ValidateToken(raw string) (*authmw.JWTClaims, error) {
	c, err := a.service.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{UserID: c.Account(), JTI: c.ID}, nil
}
