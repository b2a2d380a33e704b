package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/cache"
	"github.com/jason-s-yu/voicebattle/internal/database"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/jason-s-yu/voicebattle/internal/session"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	mu      sync.Mutex
	cleaned []string
}

func (f *fakeMedia) Cleanup(battleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, battleID)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	records []cache.BattleEventRecord
}

func (f *fakePublisher) Publish(_ context.Context, rec cache.BattleEventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.EventType)
	}
	return out
}

type fakeProfiles struct {
	mu       sync.Mutex
	displays map[uuid.UUID]models.Display
	results  []string
}

func (f *fakeProfiles) GetDisplay(_ context.Context, id uuid.UUID) (models.Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.displays[id]
	if !ok {
		return models.Display{}, database.ErrUserNotFound
	}
	return d, nil
}

func (f *fakeProfiles) ApplyMatchResult(_ context.Context, battleID string, winnerID, loserID uuid.UUID) (database.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.results {
		if id == battleID {
			return database.MatchResult{}, database.ErrResultAlreadyRecorded
		}
	}
	f.results = append(f.results, battleID)
	return database.MatchResult{
		Winner: database.RatingChange{UserID: winnerID, OldRating: 1200, NewRating: 1216, Delta: 16},
		Loser:  database.RatingChange{UserID: loserID, OldRating: 1200, NewRating: 1184, Delta: -16},
	}, nil
}

// failingSessions behaves like an unreachable Redis.
type failingSessions struct{}

var errStoreDown = errors.New("redis: connection refused")

func (failingSessions) Create(context.Context, string, string, string, bool) (*session.Snapshot, error) {
	return nil, errStoreDown
}
func (failingSessions) Get(context.Context, string) (*session.Snapshot, error) {
	return nil, errStoreDown
}
func (failingSessions) ApplyDamage(context.Context, string, string, int) (*session.DamageResult, error) {
	return nil, errStoreDown
}
func (failingSessions) SetCharacter(context.Context, string, string, string) (bool, error) {
	return false, errStoreDown
}
func (failingSessions) Delete(context.Context, string) error { return errStoreDown }

type harness struct {
	t        *testing.T
	gw       *Gateway
	store    *session.Store
	clock    *clockwork.FakeClock
	media    *fakeMedia
	events   *fakePublisher
	profiles *fakeProfiles
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newHarnessWith(t, session.NewStore(rdb, time.Hour))
}

func newHarnessWith(t *testing.T, sessions SessionStore) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    clockwork.NewFakeClock(),
		media:    &fakeMedia{},
		events:   &fakePublisher{},
		profiles: &fakeProfiles{displays: map[uuid.UUID]models.Display{}},
	}
	if s, ok := sessions.(*session.Store); ok {
		h.store = s
	}
	h.gw = New(Deps{
		Sessions:     sessions,
		Profiles:     h.profiles,
		Media:        h.media,
		Events:       h.events,
		Logger:       quietLogger(),
		Clock:        h.clock,
		Grace:        10 * time.Second,
		Rand:         rand.New(rand.NewSource(7)),
		StoreTimeout: 500 * time.Millisecond,
	})
	t.Cleanup(h.gw.Shutdown)
	return h
}

// client collects everything pushed to one connection.
type client struct {
	conn  *registry.Connection
	inbox []models.Event
}

func (c *client) pull() {
	for {
		select {
		case ev, ok := <-c.conn.OutChan:
			if !ok {
				return
			}
			c.inbox = append(c.inbox, ev)
		default:
			return
		}
	}
}

func (c *client) all(typ string) []models.Event {
	c.pull()
	var out []models.Event
	for _, ev := range c.inbox {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *client) count(typ string) int { return len(c.all(typ)) }

func (c *client) last(t *testing.T, typ string) models.Event {
	t.Helper()
	evs := c.all(typ)
	require.NotEmpty(t, evs, "no %s event received", typ)
	return evs[len(evs)-1]
}

func (c *client) reset() {
	c.pull()
	c.inbox = nil
}

func (c *client) id() string { return c.conn.UserID.String() }

func (h *harness) connect(userID uuid.UUID) *client {
	h.t.Helper()
	display := h.gw.ResolveDisplay(context.Background(), userID)
	conn := h.gw.NewConnection(userID, display, 128)
	h.gw.Admit(context.Background(), conn)
	return &client{conn: conn}
}

func (h *harness) send(c *client, typ string, payload interface{}) {
	h.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(h.t, err)
		raw = b
	}
	h.gw.Dispatch(context.Background(), c.conn, models.Envelope{Type: typ, Payload: raw})
}

type m = map[string]interface{}

// startBattle seats two fresh users in roomID and starts the battle. It
// returns them as (player 1, player 2) per the coin flip.
func (h *harness) startBattle(roomID string) (host, guest, p1, p2 *client) {
	h.t.Helper()
	host, guest = h.connect(uuid.New()), h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": roomID})
	h.send(guest, EvRoomJoin, m{"room_id": roomID})
	h.send(host, EvGameStart, m{"room_id": roomID})

	ev := host.last(h.t, OutGameStart)
	p1, p2 = host, guest
	if ev.Payload["player1_id"] != host.id() {
		p1, p2 = guest, host
	}
	return host, guest, p1, p2
}

func TestAdmitSendsConnectedAndUserCount(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())
	b := h.connect(uuid.New())

	ev := a.last(t, OutConnected)
	assert.Equal(t, a.id(), ev.Payload["user_id"])
	assert.Equal(t, false, ev.Payload["resumed"])

	assert.Equal(t, 2, a.last(t, OutUserCount).Payload["count"])
	assert.Equal(t, 2, b.last(t, OutUserCount).Payload["count"])
}

func TestResolveDisplayFallsBack(t *testing.T) {
	h := newHarness(t)
	known := uuid.New()
	h.profiles.displays[known] = models.Display{Nickname: "mic_drop", EloRating: 1400, AvatarURL: "/a.png"}

	assert.Equal(t, "mic_drop", h.gw.ResolveDisplay(context.Background(), known).Nickname)

	unknown := uuid.New()
	d := h.gw.ResolveDisplay(context.Background(), unknown)
	assert.Equal(t, models.FallbackDisplay(unknown), d)
}

func TestInvalidFramesAreRejectedToSender(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())

	h.gw.HandleRaw(context.Background(), a.conn, []byte("{not json"))
	assert.Equal(t, CodeInvalidJSON, a.last(t, "error").Payload["code"])

	h.gw.HandleRaw(context.Background(), a.conn, []byte(`{"type":"battle:explode"}`))
	assert.Equal(t, CodeUnknownEvent, a.last(t, "error").Payload["code"])

	h.send(a, EvRoomJoin, m{"room_id": ""})
	assert.Equal(t, CodeBadPayload, a.last(t, "error").Payload["code"])
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	host := h.connect(uuid.New())
	guest := h.connect(uuid.New())

	h.send(host, EvRoomJoin, m{"room_id": "r1"})
	h.send(guest, EvRoomJoin, m{"room_id": "r1"})
	h.send(guest, EvRoomJoin, m{"room_id": "r1"})

	// the host sees its own join and the guest's, once each
	assert.Equal(t, 2, host.count(OutPlayerJoined))
	assert.Equal(t, 1, guest.count(OutPlayerJoined))

	existing := guest.all(OutExistingPlayers)
	require.Len(t, existing, 2)
	assert.Equal(t, false, existing[0].Payload["rejoined"])
	assert.Equal(t, true, existing[1].Payload["rejoined"])
	players := existing[0].Payload["players"].([]models.PlayerInfo)
	require.Len(t, players, 1)
	assert.Equal(t, host.conn.UserID, players[0].UserID)

	assert.Len(t, h.gw.Rooms().Members("r1"), 2)
	assert.True(t, guest.conn.InRoom("r1"))
}

func TestRoomFullIsDenied(t *testing.T) {
	h := newHarness(t)
	a, b, c := h.connect(uuid.New()), h.connect(uuid.New()), h.connect(uuid.New())
	h.send(a, EvRoomJoin, m{"room_id": "r"})
	h.send(b, EvRoomJoin, m{"room_id": "r"})
	h.send(c, EvRoomJoin, m{"room_id": "r"})

	assert.Equal(t, CodeRoomFull, c.last(t, "error").Payload["code"])
	assert.Equal(t, 0, a.count("error"))
	assert.Equal(t, 0, c.count(OutExistingPlayers))
}

func TestLeaveTransfersHost(t *testing.T) {
	h := newHarness(t)
	host, guest := h.connect(uuid.New()), h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})
	guest.reset()

	h.send(host, EvRoomLeave, m{"room_id": "r"})

	left := guest.last(t, OutPlayerLeft)
	assert.Equal(t, host.id(), left.Payload["user_id"])
	assert.Equal(t, guest.id(), guest.last(t, OutHostChanged).Payload["new_host_id"])

	r, ok := h.gw.Rooms().Get("r")
	require.True(t, ok)
	assert.Equal(t, guest.conn.UserID, r.HostID())
	assert.False(t, host.conn.InRoom("r"))

	h.send(guest, EvRoomLeave, m{"room_id": "r"})
	_, ok = h.gw.Rooms().Get("r")
	assert.False(t, ok)

	h.send(guest, EvRoomLeave, m{"room_id": "r"})
	assert.Equal(t, 0, guest.count("error"))
}

func TestRoomReadyAndChat(t *testing.T) {
	h := newHarness(t)
	host, guest := h.connect(uuid.New()), h.connect(uuid.New())
	outsider := h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})

	h.send(guest, EvRoomReady, m{"room_id": "r", "is_ready": true})
	ready := host.last(t, OutPlayerReady)
	assert.Equal(t, guest.id(), ready.Payload["user_id"])
	assert.Equal(t, true, ready.Payload["is_ready"])

	h.send(host, EvChatMessage, m{"room_id": "r", "message": "  warm up your vocals  "})
	msg := guest.last(t, OutChatMessage)
	assert.Equal(t, "warm up your vocals", msg.Payload["message"])
	assert.Equal(t, host.conn.Display.Nickname, msg.Payload["nickname"])
	assert.Equal(t, 1, host.count(OutChatMessage))

	h.send(outsider, EvChatMessage, m{"room_id": "r", "message": "hi"})
	assert.Equal(t, CodeNotMember, outsider.last(t, "error").Payload["code"])
	assert.Equal(t, 1, guest.count(OutChatMessage))
}

func TestGameStartIsHostOnly(t *testing.T) {
	h := newHarness(t)
	host, guest := h.connect(uuid.New()), h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": "r"})

	h.send(host, EvGameStart, m{"room_id": "r"})
	assert.Equal(t, CodeNotEnough, host.last(t, "error").Payload["code"])

	h.send(guest, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvGameStart, m{"room_id": "r"})
	assert.Equal(t, CodeNotHost, guest.last(t, "error").Payload["code"])
	assert.Equal(t, 0, host.count(OutGameStart))

	h.send(host, EvGameStart, m{"room_id": "r"})
	start := guest.last(t, OutGameStart)
	assert.Equal(t, "r", start.Payload["battle_id"])
	assert.Equal(t, host.id(), start.Payload["host_id"])

	snap, err := h.store.Get(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, start.Payload["player1_id"], snap.Player1ID)
	assert.Equal(t, session.StatusCharacterSelect, snap.Status)

	h.send(host, EvGameStart, m{"room_id": "r"})
	assert.Equal(t, CodeAlreadyStart, host.last(t, "error").Payload["code"])
	assert.Equal(t, 1, guest.count(OutGameStart))
}

func TestBattleReadyUnicastsTurn(t *testing.T) {
	h := newHarness(t)
	host, guest, p1, p2 := h.startBattle("r")

	h.send(p1, EvBattleReady, m{"battle_id": "r"})
	h.send(p2, EvBattleReady, m{"room_id": "r"})

	init1 := p1.last(t, OutBattleInit)
	init2 := p2.last(t, OutBattleInit)
	assert.Equal(t, true, init1.Payload["goes_first"])
	assert.Equal(t, false, init2.Payload["goes_first"])
	assert.Equal(t, p1 == host, init1.Payload["is_host"])
	assert.NotNil(t, init1.Payload["battle"])
	assert.Equal(t, 1, host.count(OutBattleInit))
	assert.Equal(t, 1, guest.count(OutBattleInit))

	// ready before any start is a silent no-op
	loner := h.connect(uuid.New())
	h.send(loner, EvRoomJoin, m{"room_id": "lobby"})
	h.send(loner, EvBattleReady, m{"battle_id": "lobby"})
	assert.Equal(t, 0, loner.count(OutBattleInit))
	assert.Equal(t, 0, loner.count("error"))
}

func TestCharacterFlow(t *testing.T) {
	h := newHarness(t)
	_, _, p1, p2 := h.startBattle("r")

	h.send(p1, EvCharacterSelect, m{"character_id": "diva"})
	assert.Equal(t, "diva", p2.last(t, OutCharacterSelected).Payload["character_id"])

	h.send(p1, EvCharacterConfirm, m{"battle_id": "r", "character_id": "diva"})
	assert.Equal(t, false, p2.last(t, OutCharacterConfirmed).Payload["both_ready"])

	h.send(p2, EvCharacterConfirm, m{"battle_id": "r", "character_id": "crooner"})
	assert.Equal(t, true, p1.last(t, OutCharacterConfirmed).Payload["both_ready"])

	snap, err := h.store.Get(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBattle, snap.Status)

	h.send(p1, EvBattleCountdown, m{"count": 3})
	assert.Equal(t, 3, p2.last(t, OutBattleCountdown).Payload["count"])
	h.send(p1, EvBattleStart, nil)
	assert.Equal(t, p1.id(), p2.last(t, OutBattleStart).Payload["started_by"])
}

func TestAttackScenarioFinishesBattle(t *testing.T) {
	h := newHarness(t)
	_, _, p1, p2 := h.startBattle("r")

	steps := []struct {
		attacker *client
		damage   int
		hp1, hp2 int
		turn     int
		status   session.Status
	}{
		{p1, 80, 300, 220, 2, session.StatusBattle},
		{p2, 230, 70, 220, 1, session.StatusBattle},
		{p1, 90, 70, 130, 2, session.StatusBattle},
		{p2, 80, 0, 130, 1, session.StatusFinished},
	}
	for i, s := range steps {
		h.send(s.attacker, EvBattleAttack, m{
			"battle_id":   "r",
			"damage_data": m{"total_damage": s.damage, "grade": "A", "animation_trigger": "slash"},
		})
		for _, c := range []*client{p1, p2} {
			evs := c.all(OutDamageReceived)
			require.Len(t, evs, i+1)
			ev := evs[i]
			assert.Equal(t, s.attacker.id(), ev.Payload["attacker_id"])
			assert.Equal(t, s.damage, ev.Payload["damage"])
			assert.Equal(t, s.hp1, ev.Payload["player1_hp"], "step %d", i)
			assert.Equal(t, s.hp2, ev.Payload["player2_hp"], "step %d", i)
			assert.Equal(t, s.turn, ev.Payload["current_turn"], "step %d", i)
			assert.Equal(t, s.status, ev.Payload["status"], "step %d", i)
			assert.Equal(t, false, ev.Payload["degraded"])
		}
	}

	last := p1.last(t, OutDamageReceived)
	assert.Equal(t, p2.id(), last.Payload["winner_id"])

	result := p1.last(t, OutBattleResult)
	assert.Equal(t, p2.id(), result.Payload["winner_id"])
	assert.Equal(t, p1.id(), result.Payload["loser_id"])
	assert.Equal(t, 1, p2.count(OutBattleResult))

	_, ok := h.gw.Rooms().Get("r")
	assert.False(t, ok)
	_, err := h.store.Get(context.Background(), "r")
	assert.ErrorIs(t, err, session.ErrBattleNotFound)
	assert.False(t, p1.conn.InRoom("r"))
	assert.Equal(t, []string{"r"}, h.media.cleaned)
	assert.Equal(t, []string{"battle_started", "attack", "attack", "attack", "attack", "battle_result"}, h.events.types())

	// the loser's late report is a benign duplicate
	h.send(p1, EvBattleResult, m{"battle_id": "r", "winner_id": p2.id()})
	assert.Equal(t, 1, p1.count(OutBattleResult))
	assert.Equal(t, 0, p1.count("error"))
}

func TestAttackByOutsiderIsDenied(t *testing.T) {
	h := newHarness(t)
	_, _, p1, _ := h.startBattle("r")
	outsider := h.connect(uuid.New())

	h.send(outsider, EvBattleAttack, m{"battle_id": "r", "damage_data": m{"total_damage": 300}})
	assert.Equal(t, CodeNotMember, outsider.last(t, "error").Payload["code"])
	assert.Equal(t, 0, p1.count(OutDamageReceived))

	snap, err := h.store.Get(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 300, snap.Player1HP)
	assert.Equal(t, 300, snap.Player2HP)
}

func TestAttackDefaultsPresentationFields(t *testing.T) {
	h := newHarness(t)
	_, _, p1, p2 := h.startBattle("r")

	h.send(p1, EvBattleAttack, m{"battle_id": "r", "damage_data": m{"total_damage": -5}})
	ev := p2.last(t, OutDamageReceived)
	assert.Equal(t, "F", ev.Payload["grade"])
	assert.Equal(t, "miss", ev.Payload["animation_trigger"])
	assert.Equal(t, 0, ev.Payload["damage"])
	assert.Equal(t, 300, ev.Payload["player2_hp"])
	assert.Equal(t, 2, ev.Payload["current_turn"])
}

func TestAttackDegradesWhenStoreIsDown(t *testing.T) {
	h := newHarnessWith(t, failingSessions{})
	_, _, p1, p2 := h.startBattle("r")

	h.send(p1, EvBattleAttack, m{"battle_id": "r", "damage_data": m{"total_damage": 42, "grade": "B"}})

	ev := p2.last(t, OutDamageReceived)
	assert.Equal(t, true, ev.Payload["degraded"])
	assert.Equal(t, 42, ev.Payload["damage"])
	assert.Equal(t, "B", ev.Payload["grade"])
	assert.NotContains(t, ev.Payload, "player1_hp")
	assert.NotContains(t, ev.Payload, "current_turn")
	assert.Equal(t, 0, p1.count("error"))
}

func TestResultValidatesWinner(t *testing.T) {
	h := newHarness(t)
	_, _, p1, p2 := h.startBattle("r")

	h.send(p1, EvBattleResult, m{"battle_id": "r", "winner_id": uuid.NewString()})
	assert.Equal(t, CodeBadPayload, p1.last(t, "error").Payload["code"])
	assert.Equal(t, 0, p2.count(OutBattleResult))

	h.send(p1, EvBattleResult, m{"battle_id": "r", "winner_id": p1.id(), "stats": m{"accuracy": 0.9}})
	res := p2.last(t, OutBattleResult)
	assert.Equal(t, p1.id(), res.Payload["winner_id"])
	assert.Equal(t, false, res.Payload["is_ranked"])
	assert.NotContains(t, res.Payload, "rating_changes")
	assert.Empty(t, h.profiles.results)
}

func TestReconnectWithinGraceIsInvisible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hostID := uuid.New()
	host, guest := h.connect(hostID), h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})
	guest.reset()

	h.gw.Disconnect(ctx, host.conn)
	assert.True(t, h.gw.Supervisor().IsPending(hostID))

	h.clock.Advance(5 * time.Second)
	back := h.connect(hostID)
	assert.Equal(t, true, back.last(t, OutConnected).Payload["resumed"])
	assert.True(t, back.conn.InRoom("r"))

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return guest.count(OutPlayerLeft) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	r, ok := h.gw.Rooms().Get("r")
	require.True(t, ok)
	assert.Equal(t, hostID, r.HostID())
	assert.Equal(t, back.conn.ID, r.Members[0].ConnID)

	h.send(guest, EvChatMessage, m{"room_id": "r", "message": "still there?"})
	assert.Equal(t, 1, back.count(OutChatMessage))
}

func TestReconnectAfterGraceIsFreshJoin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hostID := uuid.New()
	host, guest := h.connect(hostID), h.connect(uuid.New())
	h.send(host, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})
	guest.reset()

	h.gw.Disconnect(ctx, host.conn)
	h.clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool { return guest.count(OutPlayerLeft) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, hostID.String(), guest.last(t, OutPlayerLeft).Payload["user_id"])
	assert.Equal(t, guest.id(), guest.last(t, OutHostChanged).Payload["new_host_id"])
	require.Eventually(t, func() bool { return h.gw.Supervisor().Len() == 0 }, time.Second, 5*time.Millisecond)

	back := h.connect(hostID)
	assert.Equal(t, false, back.last(t, OutConnected).Payload["resumed"])
	assert.False(t, back.conn.InRoom("r"))

	h.send(back, EvRoomJoin, m{"room_id": "r"})
	assert.Equal(t, 1, guest.count(OutPlayerJoined))
	assert.Equal(t, 1, guest.count(OutPlayerLeft))
}

func TestSupersededConnectionDropsSilently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	first := h.connect(userID)
	guest := h.connect(uuid.New())
	h.send(first, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})

	second := h.connect(userID)
	assert.True(t, first.conn.Closed())
	assert.True(t, second.conn.InRoom("r"))

	h.gw.Disconnect(ctx, first.conn)
	assert.False(t, h.gw.Supervisor().IsPending(userID))
	assert.True(t, h.gw.Registry().HasUser(userID))
	assert.Equal(t, 0, guest.count(OutPlayerLeft))
}

func TestReplacedConnectionEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	first := h.connect(userID)
	guest := h.connect(uuid.New())
	h.send(first, EvRoomJoin, m{"room_id": "r"})
	h.send(guest, EvRoomJoin, m{"room_id": "r"})

	second := h.connect(userID)
	h.send(first, EvRoomJoin, m{"room_id": "r"})
	h.send(first, EvChatMessage, m{"room_id": "r", "message": "stale"})

	r, ok := h.gw.Rooms().Get("r")
	require.True(t, ok)
	assert.Equal(t, second.conn.ID, r.Members[0].ConnID)

	h.send(guest, EvChatMessage, m{"room_id": "r", "message": "hello"})
	chats := second.all(OutChatMessage)
	require.Len(t, chats, 1)
	assert.Equal(t, "hello", chats[0].Payload["message"])
}

func TestBattleReadyWithoutBattleIsIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())
	h.send(a, EvRoomJoin, m{"room_id": "r"})
	h.send(a, EvBattleReady, nil)

	assert.Equal(t, 0, a.count(OutBattleInit))
	assert.Equal(t, 0, a.count("error"))
}

func TestDisconnectWithoutRoomsLeavesQueue(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())
	h.send(a, EvJoinQueue, nil)
	require.Equal(t, 1, h.gw.Queue().Len())

	h.gw.Disconnect(context.Background(), a.conn)
	assert.Equal(t, 0, h.gw.Queue().Len())
	assert.Equal(t, 0, h.gw.Supervisor().Len())
}

func TestMatchmakingPairsFIFO(t *testing.T) {
	h := newHarness(t)
	waiting, entrant := h.connect(uuid.New()), h.connect(uuid.New())

	h.send(waiting, EvJoinQueue, nil)
	assert.Equal(t, 1, waiting.last(t, OutMatchSearching).Payload["queue_size"])

	h.send(entrant, EvJoinQueue, nil)
	assert.Equal(t, 0, h.gw.Queue().Len())

	found1 := waiting.last(t, OutMatchFound)
	found2 := entrant.last(t, OutMatchFound)
	assert.Equal(t, true, found1.Payload["is_host"])
	assert.Equal(t, false, found2.Payload["is_host"])
	assert.Equal(t, found1.Payload["battle_id"], found2.Payload["battle_id"])
	assert.Equal(t, entrant.conn.UserID, found1.Payload["opponent"].(models.PlayerInfo).UserID)

	roomID := found1.Payload["room_id"].(string)
	r, ok := h.gw.Rooms().Get(roomID)
	require.True(t, ok)
	assert.True(t, r.Ranked)
	assert.Equal(t, waiting.conn.UserID, r.HostID())
	assert.True(t, entrant.conn.InRoom(roomID))

	h.send(waiting, EvGameStart, m{"room_id": roomID})
	h.send(entrant, EvBattleResult, m{"battle_id": roomID, "winner_id": entrant.id()})

	res := waiting.last(t, OutBattleResult)
	assert.Equal(t, true, res.Payload["is_ranked"])
	changes := res.Payload["rating_changes"].([]database.RatingChange)
	require.Len(t, changes, 2)
	assert.Equal(t, entrant.conn.UserID, changes[0].UserID)
	assert.Equal(t, 16, changes[0].Delta)
	assert.Equal(t, []string{roomID}, h.profiles.results)
}

func TestLeaveQueue(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())

	h.send(a, EvJoinQueue, nil)
	h.send(a, EvLeaveQueue, nil)
	assert.Equal(t, true, a.last(t, OutMatchCancelled).Payload["was_queued"])
	assert.Equal(t, 0, h.gw.Queue().Len())

	h.send(a, EvLeaveQueue, nil)
	assert.Equal(t, false, a.last(t, OutMatchCancelled).Payload["was_queued"])
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	a := h.connect(uuid.New())
	h.send(a, EvPing, nil)
	assert.Equal(t, h.clock.Now().UnixMilli(), a.last(t, OutPong).Payload["ts"])
}
