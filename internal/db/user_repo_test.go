package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"logoforge/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- UserRepo Tests ---

func TestUserRepo_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	upgraded := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_123"         // id
			*dest[1].(*string) = "jane@example.com" // email
			*dest[2].(*bool) = true                 // premium
			cust := "cus_abc"
			*dest[3].(**string) = &cust // stripe_customer_id
			*dest[4].(*time.Time) = created
			*dest[5].(**time.Time) = &upgraded
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_123"}).Return(row)

	user, err := repo.GetByID(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, "user_123", user.ID)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.True(t, user.Premium)
	require.NotNil(t, user.StripeCustomerID)
	assert.Equal(t, "cus_abc", *user.StripeCustomerID)
	require.NotNil(t, user.UpgradedAt)
	assert.Equal(t, upgraded, *user.UpgradedAt)

	db.AssertExpectations(t)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_missing"}).Return(row)

	_, err := repo.GetByID(ctx, "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)

	db.AssertExpectations(t)
}

func TestUserRepo_Ensure_ReturnsRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "sub_oidc_1"
			*dest[1].(*string) = "new@example.com"
			*dest[2].(*bool) = false
			*dest[3].(**string) = nil
			*dest[4].(*time.Time) = created
			*dest[5].(**time.Time) = nil
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"sub_oidc_1", "new@example.com"}).Return(row)

	user, err := repo.Ensure(ctx, "sub_oidc_1", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sub_oidc_1", user.ID)
	assert.False(t, user.Premium)
	assert.Nil(t, user.StripeCustomerID)
	assert.Nil(t, user.UpgradedAt)

	db.AssertExpectations(t)
}

func TestUserRepo_Ensure_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	row := &mockRow{scanErr: errors.New("connection refused")}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"sub_1", "a@example.com"}).Return(row)

	_, err := repo.Ensure(ctx, "sub_1", "a@example.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)

	db.AssertExpectations(t)
}

func TestUserRepo_GrantPremium_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_123"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.GrantPremium(ctx, "user_123")
	require.NoError(t, err)

	db.AssertExpectations(t)
}

func TestUserRepo_GrantPremium_UserNotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_missing"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.GrantPremium(ctx, "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)

	db.AssertExpectations(t)
}

func TestUserRepo_GrantPremium_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_123"}).
		Return(pgconn.CommandTag{}, errors.New("db error"))

	err := repo.GrantPremium(ctx, "user_123")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)

	db.AssertExpectations(t)
}

func TestUserRepo_UpdateStripeCustomerID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_123", "cus_new"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateStripeCustomerID(ctx, "user_123", "cus_new")
	require.NoError(t, err)

	db.AssertExpectations(t)
}

func TestUserRepo_GetBillingInfo_NoCustomerYet(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(**string) = nil
			*dest[1].(*string) = "jane@example.com"
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_123"}).Return(row)

	customerID, email, err := repo.GetBillingInfo(ctx, "user_123")
	require.NoError(t, err)
	assert.Empty(t, customerID)
	assert.Equal(t, "jane@example.com", email)

	db.AssertExpectations(t)
}

func TestUserRepo_GetBillingInfo_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepo(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_missing"}).Return(row)

	_, _, err := repo.GetBillingInfo(ctx, "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)

	db.AssertExpectations(t)
}
