package types

import "encoding/json"

// MessageType tags a signaling Envelope. The relay only looks at it to skip
// liveness traffic; everything else is routed verbatim.
type MessageType string

const (
	MessageHeart              MessageType = "heart"
	MessageVideoOffer         MessageType = "video-offer"
	MessageVideoAnswer        MessageType = "video-answer"
	MessageNewICECandidate    MessageType = "new-ice-candidate"
	MessageRemoteDesktop      MessageType = "remote-desktop"
	MessageCloseRemoteDesktop MessageType = "close-remote-desktop"
)

// Envelope is the JSON frame exchanged with the relay server.
type Envelope struct {
	MessageType MessageType `json:"message_type"`
	Sender      string      `json:"sender"`
	Receiver    string      `json:"receiver"`
	Message     string      `json:"message"`
}

// Heart returns an empty liveness envelope.
func Heart() Envelope {
	return Envelope{MessageType: MessageHeart}
}

// Account identifies the local party. It never changes after startup.
type Account struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Receiver identifies the remote party of the current negotiation.
type Receiver struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Geometry is the physical pixel size of the controlled display.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InputEventType tags an InputFrame on the data channel.
type InputEventType string

const (
	InputMouse InputEventType = "mouse-event"
	InputKey   InputEventType = "key-event"
)

// Mouse, wheel and keyboard event statuses as they appear in eventType.
const (
	MouseDown       = "down"
	MouseUp         = "up"
	MouseMove       = "mouse-move"
	MouseRightClick = "right-click"

	WheelUp   = "wheel-up"
	WheelDown = "wheel-down"

	KeyDown = "key-down"
	KeyUp   = "key-up"
)

// InputFrame is the data channel envelope around a mouse or key event.
type InputFrame struct {
	Type InputEventType  `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MouseEvent carries remote-display coordinates. EventType is a button
// status ("left-down"), MouseMove, MouseRightClick or a wheel status.
type MouseEvent struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	EventType string `json:"eventType"`
}

// KeyEvent carries the raw key identifier of one physical transition.
type KeyEvent struct {
	EventType string `json:"eventType"`
	Key       string `json:"key"`
}
