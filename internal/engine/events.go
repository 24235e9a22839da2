package engine

// EventType names an inbound external event.
type EventType string

const (
	EventDeviceOn          EventType = "device_on"
	EventDeviceOff         EventType = "device_off"
	EventPlayerSpeaks      EventType = "player_speaks"
	EventAISpeaks          EventType = "ai_speaks"
	EventRandom            EventType = "random"
	EventIdle              EventType = "idle"
	EventNewSession        EventType = "new_session"
	EventPlayerStateChange EventType = "player_state_change"
	EventButtonPress       EventType = "button_press"
)

// EventData carries the payload of an inbound event. Fields are sparse per
// event type.
type EventData struct {
	// Speech events.
	Content string `json:"content,omitempty"`
	Sender  string `json:"sender,omitempty"`

	// Device events: the device key (ip, or ip:childId).
	DeviceKey string `json:"deviceKey,omitempty"`

	// State-change events.
	StateType string  `json:"stateType,omitempty"` // capacity | pain | emotion
	NewValue  float64 `json:"newValue,omitempty"`
	NewText   string  `json:"newText,omitempty"`

	// Button press.
	FlowID   string `json:"flowId,omitempty"`
	Label    string `json:"label,omitempty"`
	ButtonID string `json:"buttonId,omitempty"`
}

// Event is one inbound external event.
type Event struct {
	Type EventType
	Data EventData
}
