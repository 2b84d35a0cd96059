package ws

import (
	"encoding/json"
	"time"
)

// 客户端与服务端之间的事件名。
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventWave        = "wave"
	EventMessage     = "message"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventError       = "error"
)

// Error codes carried in error events.
const (
	CodeValidation    = "ValidationError"
	CodeRoomFull      = "RoomFull"
	CodeRateLimited   = "RateLimited"
	CodeNotInRoom     = "NotInRoom"
	CodeUnknownTarget = "UnknownTarget"
	CodeInternal      = "InternalError"
)

const (
	msgJoinFailed    = "Failed to join room"
	msgRoomFull      = "Room is full"
	msgSendFailed    = "Failed to send message"
	msgRateLimited   = "Rate limit exceeded"
	msgNotInRoom     = "Not in room"
	msgWaveFailed    = "Failed to send wave"
	msgInvalidFrame  = "Invalid payload"
	msgUnknownEvent  = "Unknown event"
	msgInternalError = "Internal error"
)

// Envelope 是所有 websocket 帧的外层结构。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type SendMessagePayload struct {
	RoomID  string          `json:"roomId"`
	Content json.RawMessage `json:"content"`
}

type WavePayload struct {
	To string `json:"to"`
}

type MessageEvent struct {
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Sender      string    `json:"sender"`
	DisplayName string    `json:"displayName"`
	RoomID      string    `json:"roomId"`
}

// MemberEvent is the payload of user-joined and user-left.
type MemberEvent struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	RoomID       string `json:"roomId"`
}

type WaveEvent struct {
	From            string    `json:"from"`
	FromDisplayName string    `json:"fromDisplayName"`
	To              string    `json:"to"`
	Timestamp       time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// eventError 是单个事件的本地可恢复错误，只回报给发起连接。
type eventError struct {
	Code    string
	Message string
	Err     error
}

func (e *eventError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *eventError) Unwrap() error { return e.Err }

func localError(code, message string, err error) *eventError {
	return &eventError{Code: code, Message: message, Err: err}
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}
