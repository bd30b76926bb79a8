package derby

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

// RacePhase is the lifecycle state of a race session. Disposal is terminal and
// expressed by returning nil state from the match loop, which guarantees no
// timer fires afterwards.
type RacePhase int

const (
	PhaseWaiting RacePhase = iota
	PhaseCountdown
	PhaseRunning
	PhaseFinished
)

// joinReservationTTL bounds how long an approved join attempt may hold a seat
// reservation before the participant actually arrives. An abandoned attempt
// must not keep the session from filling.
const joinReservationTTL = 10 * time.Second

type joinOptions struct {
	displayName string
	accountRef  string
	reservedAt  time.Time
}

// RaceState is the single owned aggregate for one race session. All mutation
// happens on the match goroutine: Nakama serializes the handler callbacks, and
// asynchronous economy results re-enter through the reward dispatcher's
// channel drained at the top of every loop.
type RaceState struct {
	config *RaceConfig
	roomID string

	phase   RacePhase
	matchID string

	participants map[string]*Participant
	presences    map[string]runtime.Presence
	pendingJoins map[string]joinOptions

	validator *validator
	board     leaderboard
	bots      *botDriver
	rewards   *rewardDispatcher

	countdownRemaining int
	nextCountdownAt    time.Time
	autoStartAt        time.Time
	disposeAt          time.Time

	// Injected clock and randomness, replaceable in tests.
	now func() time.Time
	rng *rand.Rand
}

func newRaceState(config *RaceConfig, roomID string, economy EconomyService) *RaceState {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &RaceState{
		config:       config,
		roomID:       roomID,
		phase:        PhaseWaiting,
		participants: make(map[string]*Participant),
		presences:    make(map[string]runtime.Presence),
		pendingJoins: make(map[string]joinOptions),
		validator:    newValidator(config),
		bots:         newBotDriver(config, rng),
		rewards:      newRewardDispatcher(config, economy),
		now:          time.Now,
		rng:          rng,
	}
}

// RaceMatch implements the Nakama match handler for derby races.
type RaceMatch struct {
	config  *RaceConfig
	economy EconomyService
}

var _ runtime.Match = &RaceMatch{}

// NewRaceMatchFactory returns the match creation function registered with the
// Nakama initializer.
func NewRaceMatchFactory(config *RaceConfig) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return &RaceMatch{config: config, economy: NewNakamaEconomyService()}, nil
	}
}

func (m *RaceMatch) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	config := configFromParams(m.config, params)

	roomID, _ := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)
	if roomID == "" {
		roomID = uuid.New().String()
	}

	state := newRaceState(config, roomID, m.economy)
	logger.Info("Race session created: %s (max seats %d, winning score %d)", roomID, config.MaxSeats, config.WinningScore)

	tickRate := 10 // 100 ms resolution for the session timers.
	return state, tickRate, openSeatsLabel(config.MaxSeats)
}

func (m *RaceMatch) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	s, ok := state.(*RaceState)
	if !ok {
		logger.Error("state not a valid race state object")
		return state, false, "internal error"
	}

	// No late joins: the session closes at launch.
	if s.phase == PhaseRunning || s.phase == PhaseFinished {
		return s, false, "race already started"
	}

	// Approved attempts reserve a seat until the join lands, so a burst of
	// attempts cannot be admitted against the same occupancy count. A repeat
	// attempt only refreshes its own reservation.
	identity := presence.GetUserId()
	if _, reserved := s.pendingJoins[identity]; !reserved {
		if len(s.participants)+len(s.pendingJoins) >= s.config.MaxSeats {
			return s, false, "race full"
		}
	}

	s.pendingJoins[identity] = joinOptions{
		displayName: metadata["display_name"],
		accountRef:  metadata["account_ref"],
		reservedAt:  s.now(),
	}
	return s, true, ""
}

func (m *RaceMatch) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	s, ok := state.(*RaceState)
	if !ok {
		logger.Error("state not a valid race state object")
		return state
	}

	for _, presence := range presences {
		s.admit(ctx, logger, nk, dispatcher, presence)
	}

	s.updateLabel(logger, dispatcher)
	return s
}

func (m *RaceMatch) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	s, ok := state.(*RaceState)
	if !ok {
		logger.Error("state not a valid race state object")
		return state
	}

	for _, presence := range presences {
		s.evict(presence.GetUserId())
	}

	if len(s.presences) == 0 && s.phase != PhaseFinished {
		logger.Info("Race session %s empty, tearing down.", s.roomID)
		s.teardown()
		return nil
	}

	s.updateLabel(logger, dispatcher)
	return s
}

func (m *RaceMatch) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	s, ok := state.(*RaceState)
	if !ok {
		logger.Error("state not a valid race state object")
		return nil
	}

	// Completed economy calls re-enter the serialized mutation path here.
	for _, result := range s.rewards.drain() {
		s.sendWalletSync(logger, dispatcher, result)
	}

	for _, message := range messages {
		s.handleMessage(ctx, logger, nk, dispatcher, message)
	}

	now := s.now()

	for identity, opts := range s.pendingJoins {
		if now.Sub(opts.reservedAt) >= joinReservationTTL {
			delete(s.pendingJoins, identity)
		}
	}

	if s.phase == PhaseWaiting && !s.autoStartAt.IsZero() && !now.Before(s.autoStartAt) {
		s.autoStartAt = time.Time{}
		s.tryStartCountdown(logger, dispatcher, "AUTO_TIMER")
	}

	if s.phase == PhaseCountdown && !s.nextCountdownAt.IsZero() && !now.Before(s.nextCountdownAt) {
		s.countdownTick(ctx, logger, nk, dispatcher)
	}

	if s.phase == PhaseRunning {
		if s.bots.armDue(now) {
			s.bots.arm(now)
		}
		for _, bot := range s.bots.due(now) {
			s.botAdvance(ctx, logger, nk, dispatcher, bot)
		}
	}

	if s.phase == PhaseRunning && s.board.due(now, s.config.leaderboardPeriod()) && s.board.consumeDirty() {
		s.broadcast(logger, dispatcher, OpCodeLeaderboard, computeLeaderboard(s.participants), nil, nil)
	}

	if s.phase == PhaseFinished && !s.disposeAt.IsZero() && !now.Before(s.disposeAt) {
		logger.Info("Race session %s disposed.", s.roomID)
		s.teardown()
		return nil
	}

	return s
}

func (m *RaceMatch) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	if s, ok := state.(*RaceState); ok {
		s.teardown()
	}
	return state
}

func (m *RaceMatch) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}

// admit seats a newly joined human participant and seeds its initial state.
func (s *RaceState) admit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, presence runtime.Presence) {
	identity := presence.GetUserId()
	opts := s.pendingJoins[identity]
	delete(s.pendingJoins, identity)

	seat := assignSeat(s.participants, s.config.MaxSeats)
	p := &Participant{
		Identity:    identity,
		Kind:        ParticipantKindHuman,
		Seat:        seat,
		DisplayName: truncateName(opts.displayName),
		X:           s.config.TrackStartX,
		AccountRef:  opts.accountRef,
	}
	s.participants[identity] = p
	s.presences[identity] = presence
	s.board.markDirty()

	logger.Info("Participant %s joined race %s as seat %d", identity, s.roomID, seat)

	s.broadcast(logger, dispatcher, OpCodeSeatAssigned, &SeatAssignedMessage{ParticipantID: identity, Seat: seat}, nil, nil)
	s.broadcast(logger, dispatcher, OpCodeSeatMapping, s.seatMapping(), []runtime.Presence{presence}, nil)

	// Best-effort wallet snapshot for the newcomer only.
	s.rewards.lookupBalances(ctx, logger, nk, identity, opts.accountRef)

	switch s.phase {
	case PhaseCountdown:
		s.broadcast(logger, dispatcher, OpCodeCountdown, &CountdownMessage{Seconds: s.countdownRemaining}, []runtime.Presence{presence}, nil)
	case PhaseWaiting:
		if len(s.presences) >= s.config.MinParticipants {
			s.tryStartCountdown(logger, dispatcher, "AUTO_JOIN")
		} else if s.autoStartAt.IsZero() {
			s.autoStartAt = s.now().Add(s.config.autoStartGrace())
		}
	}
}

// evict releases a departed participant's seat and associated bookkeeping.
func (s *RaceState) evict(identity string) {
	s.bots.remove(identity)
	delete(s.participants, identity)
	delete(s.presences, identity)
	delete(s.pendingJoins, identity)
	s.validator.forget(identity)
	s.board.markDirty()
}

func (s *RaceState) handleMessage(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, message runtime.MatchData) {
	switch message.GetOpCode() {
	case OpCodePosition:
		s.handlePosition(logger, dispatcher, message)
	case OpCodeScore:
		s.handleScore(ctx, logger, nk, dispatcher, message)
	case OpCodeSetDisplayName:
		s.handleSetDisplayName(message)
	case OpCodeRequestSnapshot:
		s.handleRequestSnapshot(logger, dispatcher, message)
	case OpCodeRequestStart:
		s.tryStartCountdown(logger, dispatcher, "MSG")
	default:
		logger.Warn("Unknown opcode received: %d", message.GetOpCode())
	}
}

// handlePosition applies a client-reported position. Throttled and sanitized;
// every rejection is a silent no-op.
func (s *RaceState) handlePosition(logger runtime.Logger, dispatcher runtime.MatchDispatcher, message runtime.MatchData) {
	if s.phase == PhaseFinished {
		return
	}
	p, ok := s.participants[message.GetUserId()]
	if !ok {
		return
	}

	var msg PositionMessage
	if err := json.Unmarshal(message.GetData(), &msg); err != nil {
		return
	}

	if !s.validator.allowPosition(p.Identity, s.now()) {
		return
	}
	s.validator.sanitizePosition(p, &msg)

	s.broadcast(logger, dispatcher, OpCodePositionChanged, &PositionChangedMessage{
		ParticipantID: p.Identity,
		Seat:          p.Seat,
		X:             p.X,
		Y:             p.Y,
		Z:             p.Z,
	}, nil, s.presences[p.Identity])

	s.board.markDirty()
}

// handleScore applies a soft-authoritative score proposal from a human
// participant.
func (s *RaceState) handleScore(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, message runtime.MatchData) {
	if s.phase != PhaseRunning {
		return
	}
	p, ok := s.participants[message.GetUserId()]
	if !ok {
		return
	}

	var msg ScoreMessage
	if err := json.Unmarshal(message.GetData(), &msg); err != nil {
		return
	}

	target, ok := s.validator.validateScore(p, msg.Score)
	if !ok {
		return
	}
	s.applyScore(ctx, logger, nk, dispatcher, p, target)
}

func (s *RaceState) handleSetDisplayName(message runtime.MatchData) {
	p, ok := s.participants[message.GetUserId()]
	if !ok {
		return
	}
	var msg DisplayNameMessage
	if err := json.Unmarshal(message.GetData(), &msg); err != nil {
		return
	}
	p.DisplayName = truncateName(msg.DisplayName)
	s.board.markDirty()
}

func (s *RaceState) handleRequestSnapshot(logger runtime.Logger, dispatcher runtime.MatchDispatcher, message runtime.MatchData) {
	presence, ok := s.presences[message.GetUserId()]
	if !ok {
		return
	}
	s.broadcast(logger, dispatcher, OpCodeSeatMapping, s.seatMapping(), []runtime.Presence{presence}, nil)
}

// applyScore records an accepted score for any participant, recomputes the
// authoritative progress position, notifies everyone and runs the win check.
// Simulated opponents flow through here exactly like validated human input.
func (s *RaceState) applyScore(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, p *Participant, target int) {
	prev := p.Score
	p.Score = target
	p.X = s.config.trackX(target)

	s.broadcast(logger, dispatcher, OpCodeScoreChanged, &ScoreChangedMessage{
		ParticipantID: p.Identity,
		Seat:          p.Seat,
		Score:         p.Score,
	}, nil, nil)
	s.broadcast(logger, dispatcher, OpCodePositionChanged, &PositionChangedMessage{
		ParticipantID: p.Identity,
		Seat:          p.Seat,
		X:             p.X,
		Y:             p.Y,
		Z:             p.Z,
	}, nil, nil)

	s.board.markDirty()

	// Edge-triggered: only the crossing fires the ending.
	if s.phase == PhaseRunning && p.Score >= s.config.WinningScore && prev < s.config.WinningScore {
		s.finishRace(ctx, logger, nk, dispatcher, p)
	}
}

// botAdvance applies one weighted increment for a simulated opponent.
func (s *RaceState) botAdvance(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, bot *botTimer) {
	if s.phase != PhaseRunning {
		return
	}
	p, ok := s.participants[bot.identity]
	if !ok {
		return
	}

	target := p.Score + s.bots.drawIncrement()
	if target > s.config.WinningScore {
		target = s.config.WinningScore
	}
	if target == p.Score {
		return
	}
	s.applyScore(ctx, logger, nk, dispatcher, p, target)
}

// tryStartCountdown transitions Waiting into Countdown. Guarded: a no-op once
// past Waiting or while below the minimum participant count.
func (s *RaceState) tryStartCountdown(logger runtime.Logger, dispatcher runtime.MatchDispatcher, reason string) {
	if s.phase != PhaseWaiting {
		return
	}
	if len(s.presences) < s.config.MinParticipants {
		return
	}

	s.phase = PhaseCountdown
	s.countdownRemaining = s.config.CountdownSeconds
	s.autoStartAt = time.Time{}
	s.nextCountdownAt = s.now().Add(time.Second)

	logger.Info("Countdown started (%s) for race %s with %d participants", reason, s.roomID, len(s.presences))
	s.broadcast(logger, dispatcher, OpCodeCountdown, &CountdownMessage{Seconds: s.countdownRemaining}, nil, nil)
}

// countdownTick advances the one-per-second countdown. A full session skips
// straight to launch.
func (s *RaceState) countdownTick(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher) {
	if len(s.participants) >= s.config.MaxSeats {
		s.launch(ctx, logger, nk, dispatcher)
		return
	}

	s.countdownRemaining--
	if s.countdownRemaining >= 0 {
		s.broadcast(logger, dispatcher, OpCodeCountdown, &CountdownMessage{Seconds: s.countdownRemaining}, nil, nil)
	}
	if s.countdownRemaining <= 0 {
		s.launch(ctx, logger, nk, dispatcher)
		return
	}
	s.nextCountdownAt = s.nextCountdownAt.Add(time.Second)
}

// launch transitions Countdown into Running. Idempotent. Closes the session to
// new joins, fills unfilled seats with simulated opponents, generates the race
// identifier and arms the leaderboard ticker and bot driver.
func (s *RaceState) launch(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher) {
	if s.phase == PhaseRunning || s.phase == PhaseFinished {
		return
	}
	s.phase = PhaseRunning
	s.nextCountdownAt = time.Time{}
	s.autoStartAt = time.Time{}

	s.spawnBots(logger, dispatcher)

	s.matchID = uuid.New().String()
	s.broadcast(logger, dispatcher, OpCodeMatchStarted, &MatchStartedMessage{MatchID: s.matchID}, nil, nil)
	s.broadcast(logger, dispatcher, OpCodeSeatMapping, s.seatMapping(), nil, nil)
	s.broadcast(logger, dispatcher, OpCodeCountdown, &CountdownMessage{Seconds: 0}, nil, nil)
	s.broadcast(logger, dispatcher, OpCodeRaceBegins, nil, nil, nil)

	now := s.now()
	s.board.start(now, s.config.leaderboardPeriod())
	s.bots.scheduleArm(now)
	s.updateLabel(logger, dispatcher)

	logger.Info("Race %s launched (humans:%d bots:%d)", s.matchID, len(s.presences), len(s.participants)-len(s.presences))
}

// spawnBots fills every unfilled seat with a simulated opponent.
func (s *RaceState) spawnBots(logger runtime.Logger, dispatcher runtime.MatchDispatcher) {
	used := make(map[int]bool, len(s.participants))
	for _, p := range s.participants {
		used[p.Seat] = true
	}

	for seat := 1; seat <= s.config.MaxSeats; seat++ {
		if used[seat] {
			continue
		}
		identity := botIdentity(s.roomID, seat)
		s.participants[identity] = &Participant{
			Identity:    identity,
			Kind:        ParticipantKindSimulated,
			Seat:        seat,
			DisplayName: "BOT " + strconv.Itoa(seat),
			X:           s.config.TrackStartX,
		}
		s.bots.add(identity, seat)
		s.broadcast(logger, dispatcher, OpCodeSeatAssigned, &SeatAssignedMessage{ParticipantID: identity, Seat: seat}, nil, nil)
	}
	s.board.markDirty()
}

// finishRace transitions Running into Finished the first time any score
// reaches the winning threshold. Idempotent.
func (s *RaceState) finishRace(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, winner *Participant) {
	if s.phase == PhaseFinished {
		return
	}
	s.phase = PhaseFinished

	logger.Info("Race %s finished, winner %s (seat %d)", s.matchID, winner.Identity, winner.Seat)

	s.board.consumeDirty()
	s.broadcast(logger, dispatcher, OpCodeLeaderboard, computeLeaderboard(s.participants), nil, nil)
	s.broadcast(logger, dispatcher, OpCodeRaceEnded, &RaceEndedMessage{
		MatchID:    s.matchID,
		WinnerID:   winner.Identity,
		WinnerSeat: winner.Seat,
	}, nil, nil)

	s.rewards.dispatch(ctx, logger, nk, dispatcher, winner, s.matchID, s.presences[winner.Identity])

	s.bots.stop()
	s.nextCountdownAt = time.Time{}
	s.autoStartAt = time.Time{}
	s.disposeAt = s.now().Add(s.config.disposeDelay())
}

// teardown cancels every timer. Nothing may fire once the state is dropped.
func (s *RaceState) teardown() {
	s.bots.stop()
	s.rewards.reset()
	s.nextCountdownAt = time.Time{}
	s.autoStartAt = time.Time{}
	s.disposeAt = time.Time{}
	s.board = leaderboard{}
}

func (s *RaceState) sendWalletSync(logger runtime.Logger, dispatcher runtime.MatchDispatcher, result econResult) {
	presence, ok := s.presences[result.identity]
	if !ok {
		return
	}
	s.broadcast(logger, dispatcher, OpCodeWalletSync, &WalletSyncMessage{Balances: result.balances}, []runtime.Presence{presence}, nil)
}

// seatMapping builds the full participant-to-seat snapshot.
func (s *RaceState) seatMapping() []*SeatMappingEntry {
	entries := make([]*SeatMappingEntry, 0, len(s.participants))
	for _, p := range s.participants {
		entries = append(entries, &SeatMappingEntry{ParticipantID: p.Identity, Seat: p.Seat})
	}
	return entries
}

// broadcast marshals and sends a payload. A nil recipients slice addresses
// everyone; a non-nil except drops that presence from the audience.
func (s *RaceState) broadcast(logger runtime.Logger, dispatcher runtime.MatchDispatcher, opCode int64, payload interface{}, recipients []runtime.Presence, except runtime.Presence) {
	var data []byte
	if payload != nil {
		var ok bool
		data, ok = encodePayload(logger, payload)
		if !ok {
			return
		}
	}

	if except != nil && recipients == nil {
		recipients = make([]runtime.Presence, 0, len(s.presences))
		for identity, presence := range s.presences {
			if identity == except.GetUserId() {
				continue
			}
			recipients = append(recipients, presence)
		}
	}

	if err := dispatcher.BroadcastMessage(opCode, data, recipients, nil, true); err != nil {
		logger.Error("Failed to broadcast opcode %d: %v", opCode, err)
	}
}

func (s *RaceState) updateLabel(logger runtime.Logger, dispatcher runtime.MatchDispatcher) {
	open := 0
	if s.phase == PhaseWaiting || s.phase == PhaseCountdown {
		open = openSeats(s.participants, s.config.MaxSeats)
	}
	if err := dispatcher.MatchLabelUpdate(openSeatsLabel(open)); err != nil {
		logger.Error("Failed to update match label: %v", err)
	}
}

func openSeatsLabel(open int) string {
	label, _ := json.Marshal(map[string]int{"open": open})
	return string(label)
}

func encodePayload(logger runtime.Logger, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal payload: %v", err)
		return nil, false
	}
	return data, true
}
