package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
	"github.com/phangiadaiwork/shopvn-backend/internal/otp"
)

type UserRepo interface {
	PutUser(ctx context.Context, u *domain.User) error
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
}

type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

type AuthService struct {
	Repo      UserRepo
	OTP       otp.Store
	SMS       SMSSender
	JWTSecret string
	Log       *slog.Logger
}

const otpTTL = 5 * time.Minute

// RequestOTP issues a one-time code for the phone number. Codes live in the
// TTL store, not in process globals, so a restart only invalidates pending
// sessions instead of silently corrupting them.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) error {
	if phone == "" {
		return ErrBadRequest("Số điện thoại không được để trống")
	}
	code := newOTPCode()
	s.OTP.Put(phone, code, otpTTL)
	msg := fmt.Sprintf("Ma xac thuc cua ban la %s. Ma co hieu luc trong 5 phut.", code)
	if err := s.SMS.Send(ctx, phone, msg); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// Login exchanges a valid one-time code for a signed token, creating the
// user on first login.
func (s *AuthService) Login(ctx context.Context, phone, code string) (string, *domain.User, error) {
	if !s.OTP.Consume(phone, code) {
		return "", nil, ErrBadRequest("Mã xác thực không đúng hoặc đã hết hạn")
	}
	u, err := s.Repo.GetUserByPhone(ctx, phone)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		now := time.Now().UTC()
		u = &domain.User{
			ID:        uuid.New(),
			Phone:     phone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Repo.PutUser(ctx, u); err != nil {
			return "", nil, err
		}
		s.Log.Info("user created", "user_id", u.ID)
	}
	claims := jwt.MapClaims{
		"user_id": u.ID.String(),
		"phone":   u.Phone,
		"exp":     time.Now().Add(7 * 24 * time.Hour).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(s.JWTSecret))
	if err != nil {
		return "", nil, err
	}
	return signed, u, nil
}

// Verify resolves a token back to the authenticated user id.
func (s *AuthService) Verify(token string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrNotFound("Phiên đăng nhập không hợp lệ")
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrNotFound("Phiên đăng nhập không hợp lệ")
	}
	raw, _ := m["user_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrNotFound("Phiên đăng nhập không hợp lệ")
	}
	return id, nil
}

func newOTPCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
