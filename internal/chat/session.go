package chat

import "sort"

// Identity 是已认证用户在实时层的视图，不含凭据。
type Identity struct {
	ID          string `json:"identityId"`
	DisplayName string `json:"displayName"`
}

// Session 记录一个存活连接绑定的身份及其加入的房间。
type Session struct {
	ConnectionID string
	Identity     Identity
	rooms        map[string]struct{}
}

// Rooms returns the joined room ids in sorted order.
func (s *Session) Rooms() []string {
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sessions 是连接到身份的映射表，网关每个事件都从这里解析身份。
type Sessions struct {
	byConn map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{byConn: make(map[string]*Session)}
}

func (t *Sessions) Bind(connID string, identity Identity) error {
	if _, ok := t.byConn[connID]; ok {
		return ErrAlreadyBound
	}
	t.byConn[connID] = &Session{ConnectionID: connID, Identity: identity, rooms: make(map[string]struct{})}
	return nil
}

func (t *Sessions) Lookup(connID string) (Identity, bool) {
	s, ok := t.byConn[connID]
	if !ok {
		return Identity{}, false
	}
	return s.Identity, true
}

// Unbind 删除会话并返回其最终状态，供断开清理使用。
func (t *Sessions) Unbind(connID string) (Session, bool) {
	s, ok := t.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(t.byConn, connID)
	return *s, true
}

func (t *Sessions) AddRoom(connID, roomID string) {
	if s, ok := t.byConn[connID]; ok {
		s.rooms[roomID] = struct{}{}
	}
}

func (t *Sessions) RemoveRoom(connID, roomID string) {
	if s, ok := t.byConn[connID]; ok {
		delete(s.rooms, roomID)
	}
}

func (t *Sessions) Rooms(connID string) []string {
	s, ok := t.byConn[connID]
	if !ok {
		return nil
	}
	return s.Rooms()
}

func (t *Sessions) Len() int { return len(t.byConn) }
