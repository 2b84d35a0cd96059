package chat

import "errors"

// 房间与会话层的错误，网关据此映射为客户端可见的 error 事件。
var (
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyBound  = errors.New("connection already bound")
)
