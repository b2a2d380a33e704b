// internal/gateway/gateway.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/cache"
	"github.com/jason-s-yu/voicebattle/internal/database"
	"github.com/jason-s-yu/voicebattle/internal/keylock"
	"github.com/jason-s-yu/voicebattle/internal/matchmaking"
	"github.com/jason-s-yu/voicebattle/internal/metrics"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/jason-s-yu/voicebattle/internal/reconnect"
	"github.com/jason-s-yu/voicebattle/internal/registry"
	"github.com/jason-s-yu/voicebattle/internal/room"
	"github.com/jason-s-yu/voicebattle/internal/session"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// SessionStore is the battle snapshot store.
type SessionStore interface {
	Create(ctx context.Context, battleID, player1ID, player2ID string, ranked bool) (*session.Snapshot, error)
	Get(ctx context.Context, battleID string) (*session.Snapshot, error)
	ApplyDamage(ctx context.Context, battleID, attackerID string, amount int) (*session.DamageResult, error)
	SetCharacter(ctx context.Context, battleID, userID, characterID string) (bool, error)
	Delete(ctx context.Context, battleID string) error
}

// ProfileStore reads player displays and persists ranked results.
type ProfileStore interface {
	GetDisplay(ctx context.Context, id uuid.UUID) (models.Display, error)
	ApplyMatchResult(ctx context.Context, battleID string, winnerID, loserID uuid.UUID) (database.MatchResult, error)
}

// MediaCleaner deletes a finished battle's recordings.
type MediaCleaner interface {
	Cleanup(battleID string) error
}

// EventPublisher archives battle events.
type EventPublisher interface {
	Publish(ctx context.Context, record cache.BattleEventRecord) error
}

// HandlerFunc handles one inbound event for connection c.
type HandlerFunc func(ctx context.Context, c *registry.Connection, payload json.RawMessage) error

// Deps are the gateway's collaborators. Sessions is required; a nil Profiles,
// Media or Events disables that concern.
type Deps struct {
	Sessions SessionStore
	Profiles ProfileStore
	Media    MediaCleaner
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger

	Clock        clockwork.Clock
	Grace        time.Duration
	Rand         *rand.Rand
	StoreTimeout time.Duration
}

// Gateway routes client events to the coordinator components and fans the
// resulting events out to connections. Mutation and broadcast for one room id
// happen under that room's lock so every member sees them in issue order.
type Gateway struct {
	reg      *registry.Registry
	rooms    *room.Coordinator
	queue    *matchmaking.Queue
	sup      *reconnect.Supervisor
	sessions SessionStore
	profiles ProfileStore
	media    MediaCleaner
	events   EventPublisher
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	roomLocks    *keylock.KeyLock
	storeTimeout time.Duration
	clock        clockwork.Clock
	handlers     map[string]HandlerFunc
}

// New wires a Gateway and the components it owns.
func New(d Deps) *Gateway {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 3 * time.Second
	}

	g := &Gateway{
		reg:          registry.New(),
		sessions:     d.Sessions,
		profiles:     d.Profiles,
		media:        d.Media,
		events:       d.Events,
		metrics:      d.Metrics,
		log:          d.Logger,
		roomLocks:    keylock.New(),
		storeTimeout: d.StoreTimeout,
		clock:        d.Clock,
	}
	g.rooms = room.NewCoordinator(d.Sessions, d.Rand, d.Logger)
	g.sup = reconnect.NewSupervisor(d.Clock, d.Grace, g.expire, d.Logger)
	g.queue = matchmaking.NewQueue(matchmaking.PresenceFunc(g.isPresent))

	g.handlers = map[string]HandlerFunc{
		EvRoomJoin:         g.handleRoomJoin,
		EvRoomLeave:        g.handleRoomLeave,
		EvRoomReady:        g.handleRoomReady,
		EvGameStart:        g.handleGameStart,
		EvBattleReady:      g.handleBattleReady,
		EvJoinQueue:        g.handleJoinQueue,
		EvLeaveQueue:       g.handleLeaveQueue,
		EvCharacterSelect:  g.handleCharacterSelect,
		EvCharacterConfirm: g.handleCharacterConfirm,
		EvBattleCountdown:  g.handleCountdown,
		EvBattleStart:      g.handleBattleStart,
		EvBattleAttack:     g.handleAttack,
		EvBattleResult:     g.handleResult,
		EvChatMessage:      g.handleChat,
		EvPing:             g.handlePing,
	}
	return g
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *registry.Registry { return g.reg }

// Rooms exposes the room coordinator.
func (g *Gateway) Rooms() *room.Coordinator { return g.rooms }

// Queue exposes the matchmaking queue.
func (g *Gateway) Queue() *matchmaking.Queue { return g.queue }

// Supervisor exposes the reconnection supervisor.
func (g *Gateway) Supervisor() *reconnect.Supervisor { return g.sup }

// Metrics exposes the collectors the gateway updates.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// Shutdown cancels pending grace timers.
func (g *Gateway) Shutdown() {
	g.sup.Stop()
}

func (g *Gateway) isPresent(userID uuid.UUID) bool {
	return g.reg.HasUser(userID) || g.sup.IsPending(userID)
}

// ResolveDisplay loads the user's display, falling back to a placeholder when
// the profile store is absent or fails.
func (g *Gateway) ResolveDisplay(ctx context.Context, userID uuid.UUID) models.Display {
	if g.profiles == nil {
		return models.FallbackDisplay(userID)
	}
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()
	d, err := g.profiles.GetDisplay(ctx, userID)
	if err != nil {
		g.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Debug("profile lookup failed, using fallback display")
		return models.FallbackDisplay(userID)
	}
	return d
}

// NewConnection builds a registry connection that reports drops to metrics.
func (g *Gateway) NewConnection(userID uuid.UUID, display models.Display, buffer int) *registry.Connection {
	c := registry.NewConnection(userID, display, buffer, g.log)
	c.OnDrop = func(eventType string) {
		g.metrics.DroppedEvents.WithLabelValues(eventType).Inc()
	}
	return c
}

// Admit registers c as its user's active connection. A pending disconnect
// for the user is cancelled and a still-open older connection is superseded;
// either way the user's room memberships move to c without any room events.
func (g *Gateway) Admit(ctx context.Context, c *registry.Connection) {
	prev := g.reg.Add(c)

	resumed := false
	if _, ok := g.sup.Reconnect(c.UserID); ok {
		resumed = true
		g.metrics.Reconnects.WithLabelValues("resumed").Inc()
	}
	if prev != nil {
		resumed = true
		g.metrics.Reconnects.WithLabelValues("superseded").Inc()
	}

	rooms := g.rooms.RoomsOf(c.UserID)
	for _, roomID := range rooms {
		unlock := g.roomLocks.Lock(roomID)
		if g.rooms.SwapConnection(roomID, c.UserID, c.ID) {
			c.JoinRoom(roomID)
		}
		unlock()
	}
	g.queue.SwapConnection(c.UserID, c.ID)

	if prev != nil {
		prev.Supersede()
	}

	g.log.WithFields(logrus.Fields{"user_id": c.UserID, "conn_id": c.ID, "resumed": resumed, "rooms": rooms}).
		Info("connection admitted")

	c.Write(models.NewEvent(OutConnected, map[string]interface{}{
		"user_id":  c.UserID.String(),
		"conn_id":  c.ID,
		"resumed":  resumed,
		"rooms":    rooms,
		"nickname": c.Display.Nickname,
	}))
	g.broadcastUserCount()
	g.observe()
}

// Disconnect handles a closed transport. A superseded connection is dropped
// silently; otherwise the user's seats are held for the grace period.
func (g *Gateway) Disconnect(ctx context.Context, c *registry.Connection) {
	removed, wasActive := g.reg.Remove(c.ID)
	c.Close()
	if removed == nil || !wasActive {
		return
	}

	rooms := g.rooms.RoomsOf(c.UserID)
	held := g.sup.Disconnect(reconnect.Pending{
		UserID:  c.UserID,
		ConnID:  c.ID,
		Display: c.Display,
		RoomIDs: rooms,
	})
	if !held {
		g.queue.LeaveUser(c.UserID)
	}

	g.broadcastUserCount()
	g.observe()
}

// expire finalizes a departure whose grace period lapsed.
func (g *Gateway) expire(p reconnect.Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*g.storeTimeout)
	defer cancel()

	for _, roomID := range g.rooms.RoomsOf(p.UserID) {
		unlock := g.roomLocks.Lock(roomID)
		// a reconnect that slipped in after the timer fired keeps the seat
		if g.reg.HasUser(p.UserID) {
			unlock()
			continue
		}
		if err := g.leaveRoomLocked(ctx, roomID, p.UserID); err != nil {
			g.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID, "error": err}).Debug("leave on expiry")
		}
		unlock()
	}
	if !g.reg.HasUser(p.UserID) {
		g.queue.LeaveUser(p.UserID)
	}

	g.metrics.Reconnects.WithLabelValues("expired").Inc()
	g.broadcastUserCount()
	g.observe()
}

// HandleRaw decodes one text frame and dispatches it.
func (g *Gateway) HandleRaw(ctx context.Context, c *registry.Connection, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.WriteError(CodeInvalidJSON, "Invalid JSON format")
		return
	}
	g.Dispatch(ctx, c, env)
}

// Dispatch routes env to its handler. Rejections go back to the sender only;
// other errors are logged. Events from a connection that is no longer its
// user's active one are dropped.
func (g *Gateway) Dispatch(ctx context.Context, c *registry.Connection, env models.Envelope) {
	if !g.reg.IsActive(c.ID) {
		g.log.WithFields(logrus.Fields{"conn_id": c.ID, "user_id": c.UserID, "event": env.Type}).
			Debug("event from replaced connection dropped")
		return
	}
	h, ok := g.handlers[env.Type]
	if !ok {
		g.log.WithFields(logrus.Fields{"conn_id": c.ID, "event": env.Type}).Warn("unknown event")
		c.WriteError(CodeUnknownEvent, "Unknown event type: "+env.Type)
		return
	}
	g.metrics.InboundEvents.WithLabelValues(env.Type).Inc()

	err := h(ctx, c, env.Payload)
	var rej *Rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		c.WriteError(rej.Code, rej.Message)
	default:
		g.log.WithFields(logrus.Fields{"conn_id": c.ID, "user_id": c.UserID, "event": env.Type, "error": err}).
			Error("event handler failed")
		c.WriteError(CodeInternalError, "internal error")
	}
	g.observe()
}

// RateLimited tells c its event was dropped by the inbound limiter.
func (g *Gateway) RateLimited(c *registry.Connection) {
	g.metrics.RateLimited.Inc()
	c.WriteError(CodeRateLimited, "too many events, slow down")
}

func (g *Gateway) handlePing(_ context.Context, c *registry.Connection, _ json.RawMessage) error {
	c.Write(models.NewEvent(OutPong, map[string]interface{}{"ts": g.clock.Now().UnixMilli()}))
	return nil
}

// broadcastRoom sends ev to every member of roomID. Call with the room lock held.
func (g *Gateway) broadcastRoom(roomID string, ev models.Event) {
	for _, m := range g.rooms.Members(roomID) {
		g.reg.SendTo(m.ConnID, ev)
	}
}

func (g *Gateway) broadcastUserCount() {
	g.reg.Broadcast(models.NewEvent(OutUserCount, map[string]interface{}{"count": g.reg.Count()}))
}

func (g *Gateway) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.storeTimeout)
}

func (g *Gateway) publish(ctx context.Context, battleID string, actor uuid.UUID, eventType string, payload map[string]interface{}) {
	if g.events == nil {
		return
	}
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	err := g.events.Publish(ctx, cache.BattleEventRecord{
		BattleID:    battleID,
		ActorUserID: actor,
		EventType:   eventType,
		Payload:     payload,
		Timestamp:   g.clock.Now().UnixMilli(),
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{"battle_id": battleID, "error": err}).Warn("failed to archive battle event")
	}
}

func (g *Gateway) observe() {
	g.metrics.ConnectedUsers.Set(float64(g.reg.Count()))
	g.metrics.Rooms.Set(float64(g.rooms.Len()))
	g.metrics.QueueDepth.Set(float64(g.queue.Len()))
	g.metrics.PendingReconnects.Set(float64(g.sup.Len()))
}
