package chat

import (
	"sort"
	"strings"
)

const DefaultMaxRoomSize = 50

// RoomSnapshot 是加入成功后房间成员的只读快照。
type RoomSnapshot struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// RoomSummary 供 REST 接口展示在线房间。
type RoomSummary struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Registry 维护房间到成员连接集合的映射，房间按需创建、清空即删除。
type Registry struct {
	maxSize int
	rooms   map[string]map[string]struct{}
}

func NewRegistry(maxSize int) *Registry {
	if maxSize <= 0 {
		maxSize = DefaultMaxRoomSize
	}
	return &Registry{maxSize: maxSize, rooms: make(map[string]map[string]struct{})}
}

// Join 将连接加入房间。房间已满时拒绝，即使连接已是成员。
func (r *Registry) Join(roomID, connID string) (RoomSnapshot, error) {
	if strings.TrimSpace(roomID) == "" {
		return RoomSnapshot{}, ErrInvalidRoomID
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
	}
	if len(members) >= r.maxSize {
		return RoomSnapshot{}, ErrRoomFull
	}
	members[connID] = struct{}{}
	r.rooms[roomID] = members
	return RoomSnapshot{ID: roomID, Members: sortedKeys(members)}, nil
}

// Leave 幂等移除成员；removed 表示此前确为成员，deleted 表示房间因此被删除。
func (r *Registry) Leave(connID, roomID string) (removed, deleted bool) {
	members, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, ok := members[connID]; !ok {
		return false, false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true, true
	}
	return true, false
}

func (r *Registry) IsMember(roomID, connID string) bool {
	_, ok := r.rooms[roomID][connID]
	return ok
}

// MembersOf 返回成员快照，广播时遍历快照而非内部集合。
func (r *Registry) MembersOf(roomID string) []string {
	return sortedKeys(r.rooms[roomID])
}

func (r *Registry) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) Rooms() []RoomSummary {
	out := make([]RoomSummary, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, RoomSummary{ID: id, Members: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int { return len(r.rooms) }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
