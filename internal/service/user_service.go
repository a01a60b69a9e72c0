package service

import (
	"errors"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/hash"
	"protoforge/pkg/log"
	"protoforge/pkg/token"
	"strings"
)

var (
	// ErrUsernameTaken 表示用户名已存在。
	ErrUsernameTaken = errors.New("用户名已存在")
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshToken 表示 refresh token 无效。
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	GetProfile(username string) (*model.User, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{userRepo: userRepo, jwtManager: jwtManager}
}

// Register 注册新用户，第一个注册的用户成为管理员。
func (s *userService) Register(username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	role := RoleUser
	if total, err := s.userRepo.Count(); err == nil && total == 0 {
		role = RoleAdmin
	}
	newUser := &model.User{Username: username, Password: hashedPassword, Role: role}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}
	log.Infof("[UserService] 用户注册成功, username: %s, role: %s", username, role)
	return newUser, nil
}

// Login 校验密码并签发 access token 与 refresh token。
func (s *userService) Login(username, password string) (accessToken, refreshToken string, err error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}
	return s.issue(user)
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(username string) (*model.User, error) {
	return s.userRepo.FindByUsername(username)
}

// RefreshToken 验证 refresh token 并签发新的一对 token。
func (s *userService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}
	user, err := s.userRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}
	return s.issue(user)
}

func (s *userService) issue(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}
