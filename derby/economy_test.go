package derby

import (
	"context"
	"errors"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNakamaEconomy_GetBalances(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("AccountGetId", context.Background(), "user-1").
		Return(&api.Account{Wallet: `{"CO":120,"GEM":3}`}, nil)

	svc := NewNakamaEconomyService()
	balances, err := svc.GetBalances(context.Background(), &mockLogger{}, nk, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"CO": 120, "GEM": 3}, balances)
}

func TestNakamaEconomy_GetBalancesEmptyWallet(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("AccountGetId", context.Background(), "user-1").
		Return(&api.Account{}, nil)

	svc := NewNakamaEconomyService()
	balances, err := svc.GetBalances(context.Background(), &mockLogger{}, nk, "user-1")
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestNakamaEconomy_GetBalancesRequiresAccountRef(t *testing.T) {
	svc := NewNakamaEconomyService()
	_, err := svc.GetBalances(context.Background(), &mockLogger{}, nil, "")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestNakamaEconomy_Credit(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("WalletUpdate", context.Background(), "user-1", map[string]int64{"CO": int64(20)}, map[string]interface{}(nil), false).
		Return(map[string]int64{"CO": 140}, map[string]int64{"CO": 120}, nil)
	nk.On("AccountGetId", context.Background(), "user-1").
		Return(&api.Account{Wallet: `{"CO":140}`}, nil)

	svc := NewNakamaEconomyService()
	balances, err := svc.Credit(context.Background(), &mockLogger{}, nk, "user-1", "CO", 20)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"CO": 140}, balances)
	nk.AssertExpectations(t)
}

func TestNakamaEconomy_CreditRejectsBadInput(t *testing.T) {
	svc := NewNakamaEconomyService()

	_, err := svc.Credit(context.Background(), &mockLogger{}, nil, "", "CO", 20)
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = svc.Credit(context.Background(), &mockLogger{}, nil, "user-1", "CO", 0)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestNakamaEconomy_CreditWalletFailure(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("WalletUpdate", context.Background(), "user-1", map[string]int64{"CO": int64(20)}, map[string]interface{}(nil), false).
		Return(nil, nil, errors.New("storage unavailable"))

	svc := NewNakamaEconomyService()
	_, err := svc.Credit(context.Background(), &mockLogger{}, nk, "user-1", "CO", 20)
	assert.Error(t, err)
	nk.AssertNotCalled(t, "AccountGetId")
}
