package session

import (
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/room"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/types"
)

// Outbound event frames. Every frame carries its type tag so clients can
// dispatch without a second envelope.

type pongEvent struct {
	Type string `json:"type"`
}

type ackEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type roomCreatedEvent struct {
	Type   string           `json:"type"`
	RoomID types.RoomIDType `json:"roomId"`
}

type roomJoinedEvent struct {
	Type   string             `json:"type"`
	YourID types.ClientIDType `json:"yourId"`
	Room   *room.Room         `json:"room"`
}

type roomUpdateEvent struct {
	Type string     `json:"type"`
	Room *room.Room `json:"room"`
}

type leftRoomEvent struct {
	Type string `json:"type"`
}

type roomClosedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type messageEvent struct {
	Type    string             `json:"type"`
	Sender  types.ClientIDType `json:"sender"`
	Content string             `json:"content"`
}

type playbackEvent struct {
	Type string `json:"type"` // play, pause, replay
}

type volumeChangedEvent struct {
	Type   string `json:"type"`
	Volume int    `json:"volume"`
}

type currentTimeChangedEvent struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"currentTime"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorWithCodeEvent struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

func newPong() pongEvent {
	return pongEvent{Type: types.EventPong}
}

func newAck(id string) ackEvent {
	return ackEvent{Type: types.EventAck, ID: id}
}

func newRoomCreated(id types.RoomIDType) roomCreatedEvent {
	return roomCreatedEvent{Type: types.EventRoomCreated, RoomID: id}
}

// newRoomJoined carries the room with members and password stripped.
func newRoomJoined(clientID types.ClientIDType, r *room.Room) roomJoinedEvent {
	return roomJoinedEvent{Type: types.EventRoomJoined, YourID: clientID, Room: r.Public()}
}

// newRoomUpdate carries the room with members and password stripped.
func newRoomUpdate(r *room.Room) roomUpdateEvent {
	return roomUpdateEvent{Type: types.EventRoomUpdate, Room: r.Public()}
}

func newLeftRoom() leftRoomEvent {
	return leftRoomEvent{Type: types.EventLeftRoom}
}

func newRoomClosed(reason string) roomClosedEvent {
	return roomClosedEvent{Type: types.EventRoomClosed, Reason: reason}
}

func newMessage(sender types.ClientIDType, content string) messageEvent {
	return messageEvent{Type: types.EventMessage, Sender: sender, Content: content}
}

func newPlayback(tag string) playbackEvent {
	return playbackEvent{Type: tag}
}

func newVolumeChanged(volume int) volumeChangedEvent {
	return volumeChangedEvent{Type: types.EventVolumeChanged, Volume: volume}
}

func newCurrentTimeChanged(t float64) currentTimeChangedEvent {
	return currentTimeChangedEvent{Type: types.EventCurrentTimeChanged, CurrentTime: t}
}

func newError(message string) errorEvent {
	return errorEvent{Type: types.EventError, Message: message}
}

func newErrorWithCode(code Code, message string) errorWithCodeEvent {
	return errorWithCodeEvent{Type: types.EventErrorWithCode, Code: code, Message: message}
}
