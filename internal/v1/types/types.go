package types

// --- Core Domain Types ---

// ClientIDType represents a unique identifier for a client connection.
type ClientIDType string

// RoomIDType represents the 6-digit numeric identifier of a room.
type RoomIDType string

// Video describes a playable video asset. Equality is by ID alone; every
// other field is presentation metadata carried through untouched.
type Video struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Duration          float64 `json:"duration"` // seconds
	DurationFormatted string  `json:"durationFormatted,omitempty"`
	Thumbnail         string  `json:"thumbnail,omitempty"`
	ChannelName       string  `json:"channelName,omitempty"`
	IsChannelVerified bool    `json:"isChannelVerified,omitempty"`
	UploadedAt        string  `json:"uploadedAt,omitempty"`
	Views             int64   `json:"views,omitempty"`
	URL               string  `json:"url,omitempty"`
}

// Same reports whether two descriptors refer to the same asset.
func (v Video) Same(other Video) bool {
	return v.ID == other.ID
}

// ClientRecord is the persisted reverse-index entry for a connection,
// stored as a hash under client:<id>.
type ClientRecord struct {
	RoomID   RoomIDType
	LastSeen int64 // unix milliseconds
}

// --- Wire Envelope ---

// Envelope carries the fields common to every inbound frame. Command
// specific fields are decoded separately by the dispatcher.
type Envelope struct {
	Type        string  `json:"type"`
	ID          string  `json:"id,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`
	RequiresAck bool    `json:"requiresAck,omitempty"`
}

// Inbound command type tags.
const (
	CmdPing           = "ping"
	CmdCreateRoom     = "createRoom"
	CmdJoinRoom       = "joinRoom"
	CmdReJoinRoom     = "reJoinRoom"
	CmdLeaveRoom      = "leaveRoom"
	CmdCloseRoom      = "closeRoom"
	CmdSendMessage    = "sendMessage"
	CmdAddVideo       = "addVideo"
	CmdAddVideoToTop  = "addVideoAndMoveToTop"
	CmdRemoveVideo    = "removeVideoFromQueue"
	CmdMoveToTop      = "moveToTop"
	CmdShuffleQueue   = "shuffleQueue"
	CmdClearQueue     = "clearQueue"
	CmdClearHistory   = "clearHistory"
	CmdPlayNow        = "playNow"
	CmdNextVideo      = "nextVideo"
	CmdVideoFinished  = "videoFinished"
	CmdPlay           = "play"
	CmdPause          = "pause"
	CmdReplay         = "replay"
	CmdSeek           = "seek"
	CmdSetVolume      = "setVolume"
	CmdImportPlaylist = "importPlaylist"
)

// Server-outbound event type tags.
const (
	EventPong               = "pong"
	EventAck                = "ack"
	EventRoomCreated        = "roomCreated"
	EventRoomJoined         = "roomJoined"
	EventRoomUpdate         = "roomUpdate"
	EventLeftRoom           = "leftRoom"
	EventRoomClosed         = "roomClosed"
	EventMessage            = "message"
	EventPlay               = "play"
	EventPause              = "pause"
	EventReplay             = "replay"
	EventVolumeChanged      = "volumeChanged"
	EventCurrentTimeChanged = "currentTimeChanged"
	EventError              = "error"
	EventErrorWithCode      = "errorWithCode"
)

// --- Shared Interfaces ---

// Conn is the delivery handle the broadcast bus holds for a local
// connection. Lifetime stays with the transport layer; the bus only
// borrows it to push outbound frames.
type Conn interface {
	ID() ClientIDType
	// Send queues a pre-serialized frame for delivery. It must not block
	// the caller; a non-nil error means the connection is unusable and
	// should be flagged for cleanup.
	Send(frame []byte) error
	// Close tears down the connection after delivering a close reason.
	Close(reason string)
}
