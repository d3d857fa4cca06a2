package usecase

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/repo"
	"github.com/phangiadaiwork/shopvn-backend/internal/otp"
)

type capturingSMS struct {
	phone, message string
}

func (s *capturingSMS) Send(_ context.Context, phone, message string) error {
	s.phone = phone
	s.message = message
	return nil
}

var otpCodeRe = regexp.MustCompile(`\d{6}`)

func newAuthService() (*AuthService, *capturingSMS, *repo.MemoryRepo) {
	store := repo.NewMemoryRepo()
	sms := &capturingSMS{}
	return &AuthService{
		Repo:      store,
		OTP:       otp.NewMemoryStore(),
		SMS:       sms,
		JWTSecret: "test-jwt-secret",
		Log:       testLogger(),
	}, sms, store
}

func TestOTPLoginRoundtrip(t *testing.T) {
	svc, sms, store := newAuthService()
	ctx := context.Background()
	const phone = "+84901234567"

	require.NoError(t, svc.RequestOTP(ctx, phone))
	assert.Equal(t, phone, sms.phone)
	code := otpCodeRe.FindString(sms.message)
	require.Len(t, code, 6)

	token, user, err := svc.Login(ctx, phone, code)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, phone, user.Phone)
	assert.NotEmpty(t, token)

	// first login created the user
	stored, err := store.GetUserByPhone(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, user.ID, stored.ID)

	uid, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uid)
}

func TestLoginWrongCode(t *testing.T) {
	svc, _, _ := newAuthService()
	ctx := context.Background()

	require.NoError(t, svc.RequestOTP(ctx, "+84901234567"))
	_, _, err := svc.Login(ctx, "+84901234567", "000000")
	var br ErrBadRequest
	require.ErrorAs(t, err, &br)
}

func TestLoginCodeSingleUse(t *testing.T) {
	svc, sms, _ := newAuthService()
	ctx := context.Background()
	const phone = "+84901234567"

	require.NoError(t, svc.RequestOTP(ctx, phone))
	code := otpCodeRe.FindString(sms.message)

	_, _, err := svc.Login(ctx, phone, code)
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, phone, code)
	var br ErrBadRequest
	require.ErrorAs(t, err, &br)
}

func TestLoginReusesExistingUser(t *testing.T) {
	svc, sms, _ := newAuthService()
	ctx := context.Background()
	const phone = "+84901234567"

	require.NoError(t, svc.RequestOTP(ctx, phone))
	_, first, err := svc.Login(ctx, phone, otpCodeRe.FindString(sms.message))
	require.NoError(t, err)

	require.NoError(t, svc.RequestOTP(ctx, phone))
	_, second, err := svc.Login(ctx, phone, otpCodeRe.FindString(sms.message))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRequestOTPEmptyPhone(t *testing.T) {
	svc, _, _ := newAuthService()
	err := svc.RequestOTP(context.Background(), "")
	var br ErrBadRequest
	require.ErrorAs(t, err, &br)
}

func TestVerifyGarbageToken(t *testing.T) {
	svc, _, _ := newAuthService()
	_, err := svc.Verify("not-a-token")
	var nf ErrNotFound
	require.ErrorAs(t, err, &nf)
}
