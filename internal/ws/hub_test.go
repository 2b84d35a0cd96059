package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fakePeer struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
	panics bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) bool {
	if p.panics {
		panic("peer exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// take returns the frames received so far and clears the buffer.
func (p *fakePeer) take(t *testing.T) []received {
	t.Helper()
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()
	out := make([]received, 0, len(frames))
	for _, f := range frames {
		var r received
		require.NoError(t, json.Unmarshal(f, &r))
		out = append(out, r)
	}
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type stubAuth map[string]chat.Identity

func (s stubAuth) Authenticate(_ context.Context, token string) (chat.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return chat.Identity{}, fmt.Errorf("unknown token %q", token)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t     *testing.T
	g     *Gateway
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	opts.Now = clock.Now
	g := NewGateway(stubAuth{"tok-alice": {ID: "id-alice", DisplayName: "alice"}}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-g.Done()
	})
	return &harness{t: t, g: g, clock: clock}
}

func (h *harness) attach(name string) *fakePeer {
	h.t.Helper()
	p := &fakePeer{id: name}
	require.NoError(h.t, h.g.Attach(context.Background(), chat.Identity{ID: "id-" + name, DisplayName: name}, p))
	return p
}

func (h *harness) emit(p *fakePeer, event string, data interface{}) {
	h.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(h.t, err)
	require.NoError(h.t, h.g.Dispatch(context.Background(), p.id, frame))
}

func (h *harness) raw(p *fakePeer, frame string) {
	h.t.Helper()
	require.NoError(h.t, h.g.Dispatch(context.Background(), p.id, []byte(frame)))
}

func (h *harness) disconnect(p *fakePeer) {
	h.t.Helper()
	require.NoError(h.t, h.g.Disconnect(context.Background(), p.id))
}

// inspect runs fn on the gateway loop.
func (h *harness) inspect(fn func(g *Gateway)) {
	h.t.Helper()
	require.NoError(h.t, h.g.do(context.Background(), func() { fn(h.g) }))
}

func requireError(t *testing.T, frames []received, code, message string) {
	t.Helper()
	require.Len(t, frames, 1)
	require.Equal(t, EventError, frames[0].Event)
	got := decode[ErrorEvent](t, frames[0].Data)
	assert.Equal(t, ErrorEvent{Message: message, Code: code}, got)
}

func TestGateway_RoomScenario(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")

	h.emit(a, EventJoinRoom, "r1")
	got := a.take(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserJoined, got[0].Event)
	assert.Equal(t, MemberEvent{ConnectionID: "A", DisplayName: "A", RoomID: "r1"}, decode[MemberEvent](t, got[0].Data))

	h.emit(b, EventJoinRoom, "r1")
	for _, p := range []*fakePeer{a, b} {
		got := p.take(t)
		require.Len(t, got, 1, "peer %s", p.id)
		assert.Equal(t, "B", decode[MemberEvent](t, got[0].Data).ConnectionID)
	}

	h.emit(a, EventSendMessage, map[string]string{"roomId": "r1", "content": "hello"})
	for _, p := range []*fakePeer{a, b} {
		got := p.take(t)
		require.Len(t, got, 1, "peer %s", p.id)
		require.Equal(t, EventMessage, got[0].Event)
		msg := decode[MessageEvent](t, got[0].Data)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "A", msg.Sender)
		assert.Equal(t, "A", msg.DisplayName)
		assert.Equal(t, "r1", msg.RoomID)
		assert.True(t, msg.Timestamp.Equal(h.clock.now))
	}

	h.disconnect(b)
	assert.True(t, b.isClosed())
	got = a.take(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserLeft, got[0].Event)
	assert.Equal(t, MemberEvent{ConnectionID: "B", DisplayName: "B", RoomID: "r1"}, decode[MemberEvent](t, got[0].Data))

	h.inspect(func(g *Gateway) {
		assert.True(t, g.rooms.Exists("r1"))
		assert.Equal(t, []string{"A"}, g.rooms.MembersOf("r1"))
	})
	rooms, err := h.g.Rooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []chat.RoomSummary{{ID: "r1", Members: 1}}, rooms)
}

func TestGateway_SendWithoutMembership(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")
	h.emit(b, EventJoinRoom, "r2")
	b.take(t)

	h.emit(a, EventSendMessage, map[string]string{"roomId": "r2", "content": "sneaky"})
	requireError(t, a.take(t), CodeNotInRoom, "Not in room")
	assert.Empty(t, b.take(t))

	// no implicit join happened
	h.inspect(func(g *Gateway) { assert.False(t, g.rooms.IsMember("r2", "A")) })
}

func TestGateway_RateLimit(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	h.emit(a, EventJoinRoom, "r1")
	a.take(t)

	msg := map[string]string{"roomId": "r1", "content": "hi"}
	for i := 0; i < 5; i++ {
		h.emit(a, EventSendMessage, msg)
		h.clock.Advance(100 * time.Millisecond)
	}
	assert.Len(t, a.take(t), 5)

	h.emit(a, EventSendMessage, msg)
	requireError(t, a.take(t), CodeRateLimited, "Rate limit exceeded")

	// now = first send + 1000ms
	h.clock.Advance(500 * time.Millisecond)
	h.emit(a, EventSendMessage, msg)
	got := a.take(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventMessage, got[0].Event)
}

func TestGateway_RoomFull(t *testing.T) {
	h := newHarness(t, Options{MaxRoomSize: 50})
	peers := make([]*fakePeer, 0, 51)
	for i := 0; i < 51; i++ {
		peers = append(peers, h.attach(fmt.Sprintf("c%02d", i)))
	}
	for _, p := range peers[:50] {
		h.emit(p, EventJoinRoom, "lobby")
	}
	for _, p := range peers[:50] {
		p.take(t)
	}

	late := peers[50]
	h.emit(late, EventJoinRoom, "lobby")
	requireError(t, late.take(t), CodeRoomFull, "Room is full")
	for _, p := range peers[:50] {
		assert.Empty(t, p.take(t), "peer %s saw the rejected join", p.id)
	}
	h.inspect(func(g *Gateway) {
		assert.Len(t, g.rooms.MembersOf("lobby"), 50)
		assert.Empty(t, g.sessions.Rooms("c50"))
	})

	member := peers[0]
	h.emit(member, EventJoinRoom, "lobby")
	requireError(t, member.take(t), CodeRoomFull, "Room is full")
	for _, p := range peers[1:50] {
		assert.Empty(t, p.take(t), "peer %s saw a re-join of a full room", p.id)
	}
	h.inspect(func(g *Gateway) { assert.True(t, g.rooms.IsMember("lobby", member.id)) })
}

func TestGateway_Wave(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")
	c := h.attach("C")

	h.emit(a, EventWave, map[string]string{"to": "B"})
	assert.Empty(t, a.take(t))
	assert.Empty(t, c.take(t))
	got := b.take(t)
	require.Len(t, got, 1)
	require.Equal(t, EventWave, got[0].Event)
	wave := decode[WaveEvent](t, got[0].Data)
	assert.Equal(t, "A", wave.From)
	assert.Equal(t, "A", wave.FromDisplayName)
	assert.Equal(t, "B", wave.To)
	assert.False(t, wave.Timestamp.IsZero())

	h.emit(a, EventWave, map[string]string{"to": "A"})
	assert.Empty(t, a.take(t), "a wave to oneself is neither delivered nor an error")
	assert.Empty(t, b.take(t))
}

func TestGateway_WaveErrors(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")

	h.emit(a, EventWave, map[string]string{"to": "nobody"})
	requireError(t, a.take(t), CodeUnknownTarget, "Failed to send wave")

	h.emit(a, EventWave, map[string]string{})
	requireError(t, a.take(t), CodeValidation, "Failed to send wave")

	h.raw(a, `{"event":"wave"}`)
	requireError(t, a.take(t), CodeValidation, "Failed to send wave")

	h.disconnect(b)
	h.emit(a, EventWave, map[string]string{"to": "B"})
	requireError(t, a.take(t), CodeUnknownTarget, "Failed to send wave")
	assert.Empty(t, b.take(t))
}

func TestGateway_MalformedEvents(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")

	tests := []struct {
		name    string
		frame   string
		code    string
		message string
	}{
		{"not json", `{{{`, CodeValidation, "Invalid payload"},
		{"unknown event", `{"event":"dance"}`, CodeValidation, "Unknown event"},
		{"join without room", `{"event":"join-room"}`, CodeValidation, "Failed to join room"},
		{"join blank room", `{"event":"join-room","data":"   "}`, CodeValidation, "Failed to join room"},
		{"join numeric room", `{"event":"join-room","data":7}`, CodeValidation, "Failed to join room"},
		{"send without payload", `{"event":"send-message"}`, CodeValidation, "Failed to send message"},
		{"send without content", `{"event":"send-message","data":{"roomId":"r1"}}`, CodeValidation, "Failed to send message"},
		{"send empty content", `{"event":"send-message","data":{"roomId":"r1","content":""}}`, CodeValidation, "Failed to send message"},
		{"send without room", `{"event":"send-message","data":{"content":"x"}}`, CodeValidation, "Failed to send message"},
		{"send numeric room", `{"event":"send-message","data":{"roomId":1,"content":"x"}}`, CodeValidation, "Failed to send message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.raw(a, tt.frame)
			requireError(t, a.take(t), tt.code, tt.message)
		})
	}

	// the connection is still usable afterwards
	h.emit(a, EventJoinRoom, "r1")
	got := a.take(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserJoined, got[0].Event)
}

func TestGateway_ContentSanitized(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	h.emit(a, EventJoinRoom, "r1")
	a.take(t)

	h.emit(a, EventSendMessage, map[string]string{"roomId": "r1", "content": strings.Repeat("x", 1500)})
	got := a.take(t)
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("x", 1000), decode[MessageEvent](t, got[0].Data).Content)

	h.raw(a, `{"event":"send-message","data":{"roomId":"r1","content":12345}}`)
	got = a.take(t)
	require.Len(t, got, 1)
	require.Equal(t, EventMessage, got[0].Event)
	assert.Equal(t, "", decode[MessageEvent](t, got[0].Data).Content)
}

func TestGateway_RoomDeletedAndRecreated(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")
	h.emit(a, EventJoinRoom, "r1")
	h.emit(a, EventSendMessage, map[string]string{"roomId": "r1", "content": "hi"})

	h.disconnect(a)
	h.inspect(func(g *Gateway) {
		assert.False(t, g.rooms.Exists("r1"))
		assert.Equal(t, 0, g.limiter.Tracked())
		assert.Equal(t, 1, g.sessions.Len())
	})
	assert.Empty(t, b.take(t))

	h.emit(b, EventJoinRoom, "r1")
	b.take(t)
	h.inspect(func(g *Gateway) { assert.Equal(t, []string{"B"}, g.rooms.MembersOf("r1")) })
}

func TestGateway_DisconnectLeavesEveryRoom(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	b := h.attach("B")
	for _, room := range []string{"r1", "r2"} {
		h.emit(a, EventJoinRoom, room)
		h.emit(b, EventJoinRoom, room)
	}
	b.take(t)

	h.disconnect(a)
	got := b.take(t)
	require.Len(t, got, 2)
	rooms := []string{}
	for _, ev := range got {
		assert.Equal(t, EventUserLeft, ev.Event)
		rooms = append(rooms, decode[MemberEvent](t, ev.Data).RoomID)
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, rooms)

	// disconnecting twice is harmless
	h.disconnect(a)
}

func TestGateway_PanickingPeerIsolated(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.attach("A")
	bad := h.attach("bad")
	b := h.attach("B")
	for _, p := range []*fakePeer{a, bad, b} {
		h.emit(p, EventJoinRoom, "r1")
	}
	a.take(t)
	b.take(t)

	bad.panics = true
	h.emit(a, EventSendMessage, map[string]string{"roomId": "r1", "content": "still here"})
	for _, p := range []*fakePeer{a, b} {
		got := p.take(t)
		require.Len(t, got, 1, "peer %s", p.id)
		assert.Equal(t, "still here", decode[MessageEvent](t, got[0].Data).Content)
	}
}

func TestGateway_UnattachedConnectionIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.g.Dispatch(context.Background(), "ghost", []byte(`{"event":"join-room","data":"r1"}`)))
	require.NoError(t, h.g.Disconnect(context.Background(), "ghost"))
	h.inspect(func(g *Gateway) { assert.Equal(t, 0, g.rooms.Len()) })
}

func TestGateway_AttachDuplicate(t *testing.T) {
	h := newHarness(t, Options{})
	h.attach("A")
	err := h.g.Attach(context.Background(), chat.Identity{ID: "id-x"}, &fakePeer{id: "A"})
	assert.ErrorIs(t, err, chat.ErrAlreadyBound)
}

func TestGateway_Authenticate(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.g.Authenticate(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.DisplayName)

	_, err = h.g.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = h.g.Authenticate(ctx, "forged")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestGateway_Shutdown(t *testing.T) {
	g := NewGateway(stubAuth{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)

	p := &fakePeer{id: "A"}
	require.NoError(t, g.Attach(context.Background(), chat.Identity{ID: "id-A", DisplayName: "A"}, p))

	cancel()
	<-g.Done()
	assert.True(t, p.isClosed())
	assert.ErrorIs(t, g.Dispatch(context.Background(), "A", []byte(`{}`)), ErrGatewayClosed)
	_, err := g.Rooms(context.Background())
	assert.ErrorIs(t, err, ErrGatewayClosed)
}

func TestGateway_ConcurrentConnections(t *testing.T) {
	h := newHarness(t, Options{})
	const n = 20
	peers := make([]*fakePeer, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &fakePeer{id: fmt.Sprintf("p%02d", i)}
			peers[i] = p
			if err := h.g.Attach(context.Background(), chat.Identity{ID: p.id, DisplayName: p.id}, p); err != nil {
				t.Error(err)
				return
			}
			frame := []byte(`{"event":"join-room","data":"busy"}`)
			if err := h.g.Dispatch(context.Background(), p.id, frame); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	rooms, err := h.g.Rooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []chat.RoomSummary{{ID: "busy", Members: n}}, rooms)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "state(9)", State(9).String())
}
