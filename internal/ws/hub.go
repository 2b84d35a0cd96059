package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/chat"
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

var (
	ErrGatewayClosed        = errors.New("gateway closed")
	ErrAuthenticationFailed = errors.New("authentication failed")

	errUnresolvedIdentity = errors.New("identity not resolved")
)

// Peer 是网关向单个连接投递帧的出口。Send 不得阻塞。
type Peer interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// State is the lifecycle of one connection. Connecting covers the handshake
// before Attach; Disconnected is terminal.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type connection struct {
	peer  Peer
	state State
}

type Options struct {
	MaxRoomSize       int
	MessageRateLimit  int
	MessageRateWindow time.Duration
	Now               func() time.Time
}

// Gateway 是实时层的唯一写者：房间表、会话表和限流窗口都只在 Run 的循环里修改。
type Gateway struct {
	auth     auth.Authenticator
	opts     Options
	now      func() time.Time
	rooms    *chat.Registry
	sessions *chat.Sessions
	limiter  *chat.RateLimiter
	conns    map[string]*connection
	ops      chan func()
	stopped  chan struct{}
}

func NewGateway(a auth.Authenticator, opts Options) *Gateway {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	g := &Gateway{
		auth:    a,
		opts:    opts,
		now:     now,
		ops:     make(chan func()),
		stopped: make(chan struct{}),
	}
	g.reset()
	return g
}

func (g *Gateway) reset() {
	g.rooms = chat.NewRegistry(g.opts.MaxRoomSize)
	g.sessions = chat.NewSessions()
	g.limiter = chat.NewRateLimiter(g.opts.MessageRateLimit, g.opts.MessageRateWindow)
	g.conns = make(map[string]*connection)
}

// Run 处理所有状态变更，直到 ctx 结束；退出时关闭全部连接并清空状态。
// Run must be called exactly once.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.stopped)
	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return
		case op := <-g.ops:
			g.safely("op", op)
		}
	}
}

// Done is closed once Run has returned.
func (g *Gateway) Done() <-chan struct{} { return g.stopped }

func (g *Gateway) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case g.ops <- op:
	case <-g.stopped:
		return ErrGatewayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Authenticate resolves the handshake token. It runs on the caller's
// goroutine since the credential store may do I/O.
func (g *Gateway) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, ErrAuthenticationFailed
	}
	identity, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return identity, nil
}

// Attach 将已认证的连接纳入网关，连接进入 Authenticated 状态。
func (g *Gateway) Attach(ctx context.Context, identity chat.Identity, peer Peer) error {
	var err error
	if e := g.do(ctx, func() { err = g.attach(identity, peer) }); e != nil {
		return e
	}
	return err
}

// Dispatch handles one inbound frame. Event failures are reported to the
// connection as error events, not returned.
func (g *Gateway) Dispatch(ctx context.Context, connID string, frame []byte) error {
	return g.do(ctx, func() { g.dispatch(connID, frame) })
}

func (g *Gateway) Disconnect(ctx context.Context, connID string) error {
	return g.do(ctx, func() { g.disconnect(connID) })
}

// Rooms 返回当前存在的房间摘要。
func (g *Gateway) Rooms(ctx context.Context) ([]chat.RoomSummary, error) {
	var out []chat.RoomSummary
	if err := g.do(ctx, func() { out = g.rooms.Rooms() }); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gateway) attach(identity chat.Identity, peer Peer) error {
	connID := peer.ID()
	if err := g.sessions.Bind(connID, identity); err != nil {
		return err
	}
	g.conns[connID] = &connection{peer: peer, state: StateAuthenticated}
	metrics.WsConnections.Inc()
	log.Info().Str("conn_id", connID).Str("identity_id", identity.ID).Str("user", identity.DisplayName).Msg("connected")
	return nil
}

func (g *Gateway) dispatch(connID string, frame []byte) {
	conn, ok := g.conns[connID]
	if !ok || conn.state != StateAuthenticated {
		log.Debug().Str("conn_id", connID).Msg("event from unattached connection dropped")
		return
	}
	if err := g.handle(connID, frame); err != nil {
		g.reportError(connID, err)
	}
}

func (g *Gateway) handle(connID string, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("conn_id", connID).Interface("panic", r).Msg("event handler panic")
			err = localError(CodeInternal, msgInternalError, fmt.Errorf("panic: %v", r))
		}
	}()
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return localError(CodeValidation, msgInvalidFrame, err)
	}
	switch env.Event {
	case EventJoinRoom:
		return g.joinRoom(connID, env.Data)
	case EventSendMessage:
		return g.sendMessage(connID, env.Data)
	case EventWave:
		return g.wave(connID, env.Data)
	default:
		return localError(CodeValidation, msgUnknownEvent, fmt.Errorf("event %q", env.Event))
	}
}

func (g *Gateway) reportError(connID string, err error) {
	var evErr *eventError
	if !errors.As(err, &evErr) {
		evErr = localError(CodeInternal, msgInternalError, err)
	}
	metrics.EventErrorsTotal.WithLabelValues(evErr.Code).Inc()
	log.Debug().Str("conn_id", connID).Err(err).Msg("event rejected")
	g.deliver(connID, EventError, ErrorEvent{Message: evErr.Message, Code: evErr.Code})
}

func (g *Gateway) joinRoom(connID string, data json.RawMessage) error {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return localError(CodeValidation, msgJoinFailed, err)
	}
	identity, ok := g.sessions.Lookup(connID)
	if !ok {
		return localError(CodeValidation, msgJoinFailed, errUnresolvedIdentity)
	}
	if _, err := g.rooms.Join(roomID, connID); err != nil {
		if errors.Is(err, chat.ErrRoomFull) {
			return localError(CodeRoomFull, msgRoomFull, err)
		}
		return localError(CodeValidation, msgJoinFailed, err)
	}
	g.sessions.AddRoom(connID, roomID)
	metrics.RoomsActive.Set(float64(g.rooms.Len()))
	log.Info().Str("conn_id", connID).Str("user", identity.DisplayName).Str("room_id", roomID).Msg("joined room")

	g.broadcast(roomID, EventUserJoined, MemberEvent{ConnectionID: connID, DisplayName: identity.DisplayName, RoomID: roomID})
	return nil
}

func (g *Gateway) sendMessage(connID string, data json.RawMessage) error {
	var p SendMessagePayload
	if len(data) == 0 {
		return localError(CodeValidation, msgSendFailed, errors.New("missing payload"))
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return localError(CodeValidation, msgSendFailed, err)
	}
	content, present := chat.ContentFromJSON(p.Content)
	if p.RoomID == "" || !present {
		return localError(CodeValidation, msgSendFailed, errors.New("roomId and content are required"))
	}
	identity, ok := g.sessions.Lookup(connID)
	if !ok {
		return localError(CodeValidation, msgSendFailed, errUnresolvedIdentity)
	}
	now := g.now()
	if !g.limiter.CheckAndRecord(identity.ID, now) {
		return localError(CodeRateLimited, msgRateLimited, nil)
	}
	// no implicit join
	if !g.rooms.IsMember(p.RoomID, connID) {
		return localError(CodeNotInRoom, msgNotInRoom, nil)
	}
	g.broadcast(p.RoomID, EventMessage, MessageEvent{
		Content:     content,
		Timestamp:   now,
		Sender:      connID,
		DisplayName: identity.DisplayName,
		RoomID:      p.RoomID,
	})
	metrics.WsMessagesTotal.Inc()
	return nil
}

func (g *Gateway) wave(connID string, data json.RawMessage) error {
	var p WavePayload
	if len(data) == 0 {
		return localError(CodeValidation, msgWaveFailed, errors.New("missing payload"))
	}
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		return localError(CodeValidation, msgWaveFailed, err)
	}
	from, ok := g.sessions.Lookup(connID)
	if !ok {
		return localError(CodeValidation, msgWaveFailed, errUnresolvedIdentity)
	}
	to, ok := g.sessions.Lookup(p.To)
	if !ok {
		return localError(CodeUnknownTarget, msgWaveFailed, fmt.Errorf("connection %q", p.To))
	}
	// waves go to others only
	if p.To == connID {
		return nil
	}
	g.deliver(p.To, EventWave, WaveEvent{
		From:            connID,
		FromDisplayName: from.DisplayName,
		To:              p.To,
		Timestamp:       g.now(),
	})
	metrics.WavesTotal.Inc()
	log.Debug().Str("from", from.DisplayName).Str("to", to.DisplayName).Msg("wave")
	return nil
}

func (g *Gateway) disconnect(connID string) {
	conn, ok := g.conns[connID]
	if !ok {
		return
	}
	conn.state = StateDisconnected
	delete(g.conns, connID)
	g.safely("close peer", conn.peer.Close)
	metrics.WsConnections.Dec()

	sess, ok := g.sessions.Unbind(connID)
	if !ok {
		return
	}
	g.limiter.Forget(sess.Identity.ID)
	for _, roomID := range sess.Rooms() {
		g.safely("leave room", func() {
			_, deleted := g.rooms.Leave(connID, roomID)
			if deleted {
				return
			}
			g.broadcast(roomID, EventUserLeft, MemberEvent{ConnectionID: connID, DisplayName: sess.Identity.DisplayName, RoomID: roomID})
		})
	}
	metrics.RoomsActive.Set(float64(g.rooms.Len()))
	log.Info().Str("conn_id", connID).Str("user", sess.Identity.DisplayName).Msg("disconnected")
}

func (g *Gateway) shutdown() {
	for id, conn := range g.conns {
		conn.state = StateDisconnected
		g.safely("close peer", conn.peer.Close)
		log.Debug().Str("conn_id", id).Msg("closed on shutdown")
	}
	metrics.WsConnections.Sub(float64(len(g.conns)))
	g.reset()
	metrics.RoomsActive.Set(0)
	log.Info().Msg("gateway stopped")
}

// broadcast 向房间成员快照逐个投递；单个成员失败不影响其他成员。
func (g *Gateway) broadcast(roomID, event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode")
		return
	}
	for _, member := range g.rooms.MembersOf(roomID) {
		g.send(member, frame)
	}
}

func (g *Gateway) deliver(connID, event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode")
		return
	}
	g.send(connID, frame)
}

func (g *Gateway) send(connID string, frame []byte) {
	conn, ok := g.conns[connID]
	if !ok {
		return
	}
	delivered := false
	g.safely("send", func() { delivered = conn.peer.Send(frame) })
	if !delivered {
		metrics.DroppedFramesTotal.Inc()
		log.Warn().Str("conn_id", connID).Msg("frame dropped")
	}
}

func (g *Gateway) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", what).Interface("panic", r).Msg("recovered")
		}
	}()
	fn()
}
