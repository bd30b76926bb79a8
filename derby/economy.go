package derby

import (
	"context"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// EconomyService is the external system of record for a human participant's
// persistent currency balances. Both operations are treated as unreliable and
// latent; the race core never assumes success and never retries.
type EconomyService interface {
	// GetBalances returns the currency balances held against the account
	// reference.
	GetBalances(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef string) (map[string]int64, error)

	// Credit adds the amount of the currency to the account and returns the
	// updated balances.
	Credit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef, currencyCode string, amount int64) (map[string]int64, error)
}

// NakamaEconomyService implements the EconomyService interface against the
// Nakama wallet, where the account reference is the owning user ID.
type NakamaEconomyService struct{}

func NewNakamaEconomyService() *NakamaEconomyService {
	return &NakamaEconomyService{}
}

func (e *NakamaEconomyService) GetBalances(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef string) (map[string]int64, error) {
	if accountRef == "" {
		return nil, ErrBadInput
	}

	account, err := nk.AccountGetId(ctx, accountRef)
	if err != nil {
		logger.Error("Failed to get account: %v", err)
		return nil, err
	}
	return unmarshalWallet(account)
}

func (e *NakamaEconomyService) Credit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef, currencyCode string, amount int64) (map[string]int64, error) {
	if accountRef == "" || amount <= 0 {
		return nil, ErrBadInput
	}

	changeset := map[string]int64{currencyCode: amount}
	if _, _, err := nk.WalletUpdate(ctx, accountRef, changeset, nil, false); err != nil {
		logger.Error("Failed to update wallet: %v", err)
		return nil, runtime.NewError("failed to update wallet", 13) // INTERNAL
	}

	// Fetch updated wallet
	account, err := nk.AccountGetId(ctx, accountRef)
	if err != nil {
		logger.Error("Failed to get account: %v", err)
		return nil, err
	}
	return unmarshalWallet(account)
}

func unmarshalWallet(account *api.Account) (map[string]int64, error) {
	if account == nil || account.Wallet == "" {
		return map[string]int64{}, nil
	}
	var wallet map[string]int64
	if err := json.Unmarshal([]byte(account.Wallet), &wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}
