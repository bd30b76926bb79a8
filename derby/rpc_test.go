package derby

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestRpcRaceCreate(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("MatchCreate", context.Background(), ModuleName, map[string]interface{}{"max_seats": float64(4)}).
		Return("match-uuid.node", nil)

	out, err := rpcRaceCreate()(context.Background(), &mockLogger{}, nil, nk, `{"max_seats":4}`)
	require.NoError(t, err)

	var response map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "match-uuid.node", response["match_id"])
}

func TestRpcRaceCreate_EmptyPayload(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("MatchCreate", context.Background(), ModuleName, map[string]interface{}{}).
		Return("match-uuid.node", nil)

	_, err := rpcRaceCreate()(context.Background(), &mockLogger{}, nil, nk, "")
	assert.NoError(t, err)
}

func TestRpcRaceCreate_BadPayload(t *testing.T) {
	nk := NewMockNakama(t)

	_, err := rpcRaceCreate()(context.Background(), &mockLogger{}, nil, nk, "{not json")
	assert.ErrorIs(t, err, ErrPayloadDecode)
	nk.AssertNotCalled(t, "MatchCreate")
}

func TestRpcRaceFind(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("MatchList", context.Background(), raceFindLimit, true, "", (*int)(nil), (*int)(nil), "+label.open:>0").
		Return([]*api.Match{
			{MatchId: "match-a.node", Label: wrapperspb.String(`{"open":3}`)},
			{MatchId: "match-b.node", Label: wrapperspb.String(`{"open":1}`)},
		}, nil)

	out, err := rpcRaceFind()(context.Background(), &mockLogger{}, nil, nk, "")
	require.NoError(t, err)

	var entries []struct {
		MatchID string `json:"match_id"`
		Label   string `json:"label"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "match-a.node", entries[0].MatchID)
	assert.Equal(t, `{"open":3}`, entries[0].Label)
}

func TestRpcRaceFind_NoMatches(t *testing.T) {
	nk := NewMockNakama(t)
	nk.On("MatchList", mock.Anything, raceFindLimit, true, "", (*int)(nil), (*int)(nil), "+label.open:>0").
		Return([]*api.Match{}, nil)

	out, err := rpcRaceFind()(context.Background(), &mockLogger{}, nil, nk, "")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRpcRaceScheduleNext(t *testing.T) {
	out, err := rpcRaceScheduleNext(NewRaceSchedule("*/5 * * * *"))(context.Background(), &mockLogger{}, nil, nil, "")
	require.NoError(t, err)

	var response map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.NotEmpty(t, response["next"])
}

func TestRpcRaceScheduleNext_Unconfigured(t *testing.T) {
	_, err := rpcRaceScheduleNext(NewRaceSchedule(""))(context.Background(), &mockLogger{}, nil, nil, "")
	assert.ErrorIs(t, err, ErrNoSchedule)
}
