package derby

import (
	"context"
	"os"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// mockLogger satisfies runtime.Logger and discards all output.
type mockLogger struct{}

func (l *mockLogger) Debug(format string, v ...interface{})                   {}
func (l *mockLogger) Info(format string, v ...interface{})                    {}
func (l *mockLogger) Warn(format string, v ...interface{})                    {}
func (l *mockLogger) Error(format string, v ...interface{})                   {}
func (l *mockLogger) WithField(key string, value interface{}) runtime.Logger  { return l }
func (l *mockLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *mockLogger) Fields() map[string]interface{}                          { return map[string]interface{}{} }

// mockPresence is a connected participant for match handler tests.
type mockPresence struct {
	userID string
}

func (p *mockPresence) GetUserId() string                 { return p.userID }
func (p *mockPresence) GetSessionId() string              { return "session-" + p.userID }
func (p *mockPresence) GetNodeId() string                 { return "node" }
func (p *mockPresence) GetHidden() bool                   { return false }
func (p *mockPresence) GetPersistence() bool              { return false }
func (p *mockPresence) GetUsername() string               { return p.userID }
func (p *mockPresence) GetStatus() string                 { return "" }
func (p *mockPresence) GetReason() runtime.PresenceReason { return runtime.PresenceReasonUnknown }

// mockMatchData is an inbound client message for match handler tests.
type mockMatchData struct {
	mockPresence
	opCode int64
	data   []byte
}

func (d *mockMatchData) GetOpCode() int64      { return d.opCode }
func (d *mockMatchData) GetData() []byte       { return d.data }
func (d *mockMatchData) GetReliable() bool     { return true }
func (d *mockMatchData) GetReceiveTime() int64 { return 0 }

// broadcastRecord is one captured dispatcher broadcast.
type broadcastRecord struct {
	opCode     int64
	data       []byte
	recipients []runtime.Presence
}

// mockDispatcher records every broadcast and label update so tests can assert
// on outbound traffic.
type mockDispatcher struct {
	broadcasts []broadcastRecord
	labels     []string
	kicked     []runtime.Presence
}

func (d *mockDispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	d.broadcasts = append(d.broadcasts, broadcastRecord{opCode: opCode, data: data, recipients: presences})
	return nil
}

func (d *mockDispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	return d.BroadcastMessage(opCode, data, presences, sender, reliable)
}

func (d *mockDispatcher) MatchKick(presences []runtime.Presence) error {
	d.kicked = append(d.kicked, presences...)
	return nil
}

func (d *mockDispatcher) MatchLabelUpdate(label string) error {
	d.labels = append(d.labels, label)
	return nil
}

// byOpCode filters the captured broadcasts.
func (d *mockDispatcher) byOpCode(opCode int64) []broadcastRecord {
	var out []broadcastRecord
	for _, record := range d.broadcasts {
		if record.opCode == opCode {
			out = append(out, record)
		}
	}
	return out
}

// MockNakamaModule is a partial Nakama module mock covering the calls the
// derby plugin makes. Unimplemented methods panic through the embedded nil
// interface, which keeps unexpected usage loud in tests.
type MockNakamaModule struct {
	mock.Mock
	runtime.NakamaModule
	logger *zap.Logger
}

// NewMockNakama returns a new instance of MockNakamaModule for use in tests.
func NewMockNakama(t *testing.T) *MockNakamaModule {
	logger, _ := zap.NewDevelopment()
	return &MockNakamaModule{logger: logger}
}

func (m *MockNakamaModule) Log(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

func (m *MockNakamaModule) AccountGetId(ctx context.Context, userID string) (*api.Account, error) {
	args := m.Called(ctx, userID)
	if account, ok := args.Get(0).(*api.Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNakamaModule) WalletUpdate(ctx context.Context, userID string, changeset map[string]int64, metadata map[string]interface{}, updateLedger bool) (map[string]int64, map[string]int64, error) {
	args := m.Called(ctx, userID, changeset, metadata, updateLedger)
	updated, _ := args.Get(0).(map[string]int64)
	previous, _ := args.Get(1).(map[string]int64)
	return updated, previous, args.Error(2)
}

func (m *MockNakamaModule) ReadFile(relPath string) (*os.File, error) {
	args := m.Called(relPath)
	if file, ok := args.Get(0).(*os.File); ok {
		return file, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNakamaModule) MatchCreate(ctx context.Context, module string, params map[string]interface{}) (string, error) {
	args := m.Called(ctx, module, params)
	return args.String(0), args.Error(1)
}

func (m *MockNakamaModule) MatchList(ctx context.Context, limit int, authoritative bool, label string, minSize, maxSize *int, query string) ([]*api.Match, error) {
	args := m.Called(ctx, limit, authoritative, label, minSize, maxSize, query)
	matches, _ := args.Get(0).([]*api.Match)
	return matches, args.Error(1)
}

// MockEconomyService is a testify mock of the external economy contract.
type MockEconomyService struct {
	mock.Mock
}

func (m *MockEconomyService) GetBalances(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef string) (map[string]int64, error) {
	args := m.Called(ctx, logger, nk, accountRef)
	balances, _ := args.Get(0).(map[string]int64)
	return balances, args.Error(1)
}

func (m *MockEconomyService) Credit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, accountRef, currencyCode string, amount int64) (map[string]int64, error) {
	args := m.Called(ctx, logger, nk, accountRef, currencyCode, amount)
	balances, _ := args.Get(0).(map[string]int64)
	return balances, args.Error(1)
}
