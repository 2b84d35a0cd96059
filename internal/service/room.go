package service

import (
	"context"

	"chatrelay/internal/chat"
)

// RoomLister is satisfied by the realtime gateway.
type RoomLister interface {
	Rooms(ctx context.Context) ([]chat.RoomSummary, error)
}

// RoomService 暴露在线房间列表，房间本身只存在于内存中。
type RoomService struct {
	rooms RoomLister
}

func NewRoomService(rooms RoomLister) *RoomService {
	return &RoomService{rooms: rooms}
}

// List 返回至多 limit 个在线房间。
func (s *RoomService) List(ctx context.Context, limit int) ([]chat.RoomSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rooms, err := s.rooms.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}
