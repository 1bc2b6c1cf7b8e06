package domain

// Outbound event names.
const (
	EventJoinResponse = "join_response"
	EventCameraStatus = "camera_status"
	EventHandPosition = "hand_position_broadcast"
	EventDraw         = "draw_broadcast"
	EventClear        = "clear_broadcast"

	// Direct replies, never broadcast.
	EventStreamStatus = "stream_status"
	EventPong         = "pong"
	EventWhoAmI       = "whoami"
)

type JoinResponse struct {
	Room  RoomName `json:"room,omitempty"`
	Count int      `json:"count"`
}

type CameraStatus struct {
	Status      bool          `json:"status"`
	Participant ParticipantID `json:"participant"`
}

type HandPosition struct {
	Room        RoomName      `json:"room"`
	Landmarks   []Hand        `json:"landmarks"`
	Participant ParticipantID `json:"participant"`
}

type StreamStatus struct {
	Room      RoomName `json:"room"`
	Streaming bool     `json:"streaming"`
}

type WhoAmI struct {
	Participant ParticipantID `json:"participant"`
	Client      string        `json:"client,omitempty"`
	Rooms       []RoomName    `json:"rooms"`
	Streaming   []RoomName    `json:"streaming"`
	Camera      bool          `json:"camera"`
}
