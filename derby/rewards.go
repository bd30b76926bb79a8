package derby

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// econResult is a completed asynchronous economy call, delivered back into the
// match loop's serialized mutation path for best-effort wallet sync delivery.
type econResult struct {
	identity string
	balances map[string]int64
}

// rewardDispatcher issues at most one currency credit per (participant,
// matchId) pair. Economy calls run fire-and-forget on their own goroutines and
// never block or delay the match loop; the winner receives the in-session
// reward notification regardless of economy outcome.
type rewardDispatcher struct {
	config  *RaceConfig
	economy EconomyService

	awarded map[string]struct{}
	results chan econResult
}

func newRewardDispatcher(config *RaceConfig, economy EconomyService) *rewardDispatcher {
	return &rewardDispatcher{
		config:  config,
		economy: economy,
		awarded: make(map[string]struct{}),
		results: make(chan econResult, 16),
	}
}

// dispatch grants the race reward to a human winner. The awarded-token check
// runs on the match goroutine, so a duplicate win signal or a retried dispatch
// cannot double-credit. Returns true if a reward was issued.
func (r *rewardDispatcher) dispatch(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, winner *Participant, matchID string, presence runtime.Presence) bool {
	if winner.Kind != ParticipantKindHuman {
		return false
	}

	token := winner.Identity + ":" + matchID
	if _, done := r.awarded[token]; done {
		return false
	}
	r.awarded[token] = struct{}{}

	// Local notification first: the persisted credit is best-effort.
	if presence != nil {
		payload, ok := encodePayload(logger, &RewardGrantedMessage{
			MatchID:  matchID,
			Currency: r.config.RewardCurrency,
			Amount:   r.config.RewardAmount,
			Reason:   "win",
		})
		if ok {
			if err := dispatcher.BroadcastMessage(OpCodeRewardGranted, payload, []runtime.Presence{presence}, nil, true); err != nil {
				logger.Error("Failed to send reward notification: %v", err)
			}
		}
	}

	if r.economy == nil || winner.AccountRef == "" {
		logger.Warn("Economy service not configured for winner %s, credit skipped.", winner.Identity)
		return true
	}

	identity := winner.Identity
	accountRef := winner.AccountRef
	go func() {
		balances, err := r.economy.Credit(ctx, logger, nk, accountRef, r.config.RewardCurrency, r.config.RewardAmount)
		if err != nil {
			logger.Error("Economy credit failed for %s: %v", accountRef, err)
			return
		}
		r.deliver(econResult{identity: identity, balances: balances})
	}()

	return true
}

// lookupBalances issues an asynchronous balance read for a joining
// participant. Failure is swallowed: absence of a wallet sync is not fatal.
func (r *rewardDispatcher) lookupBalances(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, identity, accountRef string) {
	if r.economy == nil || accountRef == "" {
		return
	}
	go func() {
		balances, err := r.economy.GetBalances(ctx, logger, nk, accountRef)
		if err != nil {
			logger.Warn("Economy balance lookup failed for %s: %v", accountRef, err)
			return
		}
		r.deliver(econResult{identity: identity, balances: balances})
	}()
}

// deliver queues an economy result for the match loop. Drops the result if the
// queue is full or the match is gone; wallet sync is best-effort.
func (r *rewardDispatcher) deliver(result econResult) {
	select {
	case r.results <- result:
	default:
	}
}

// drain collects any completed economy results without blocking.
func (r *rewardDispatcher) drain() []econResult {
	var out []econResult
	for {
		select {
		case result := <-r.results:
			out = append(out, result)
		default:
			return out
		}
	}
}

// reset clears the awarded-token set.
func (r *rewardDispatcher) reset() {
	r.awarded = make(map[string]struct{})
}
