package service

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/internal/auth"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/store"
)

// UserService 封装注册、登录以及令牌到身份的解析。
type UserService struct {
	store store.Store
	cfg   config.Config
}

func NewUserService(s store.Store, cfg config.Config) *UserService {
	return &UserService{store: s, cfg: cfg}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
}

// Register 校验并创建身份；store 的校验错误原样返回给 handler。
func (s *UserService) Register(ctx context.Context, username, password string) (*RegisterResult, error) {
	id, err := s.store.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{IdentityID: id.ID, DisplayName: id.DisplayName}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}

// Login 校验用户名密码并签发令牌。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	id, err := s.store.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, store.ErrUnknownUsername) || errors.Is(err, store.ErrWrongPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	token, err := auth.GenerateAccessToken(id.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{IdentityID: id.ID, DisplayName: id.DisplayName, Token: token}, nil
}

// Authenticate 解析令牌并按主键查找身份，替代逐个比对的线性扫描。
func (s *UserService) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, ErrAuthenticationFailed
	}
	claims, err := auth.ParseAccessToken(token, s.cfg.JWTSecret)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	id, err := s.store.Lookup(ctx, claims.IdentityID)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return id.Public(), nil
}
