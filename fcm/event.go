package fcm

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Event is a marker interface for inbound push events.
type Event interface {
	fcmEvent()
}

// NewToken is delivered when the push runtime issues or rotates the token.
type NewToken struct {
	Token string `json:"token"`
}

func (NewToken) fcmEvent() {}

// Notification is the display part of a push message.
type Notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// RemoteMessage is a received push message.
type RemoteMessage struct {
	From         string            `json:"from,omitempty"`
	MessageID    string            `json:"messageId,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

func (RemoteMessage) fcmEvent() {}

// ParseEvent decodes one JSON event line.
func ParseEvent(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing push event: %w", err)
	}

	if tokenData, ok := raw["newToken"]; ok {
		var token string
		if err := json.Unmarshal(tokenData, &token); err != nil {
			return nil, fmt.Errorf("parsing push event newToken: %w", err)
		}
		return NewToken{Token: token}, nil
	}

	if msgData, ok := raw["message"]; ok {
		var msg RemoteMessage
		if err := json.Unmarshal(msgData, &msg); err != nil {
			return nil, fmt.Errorf("parsing push event message: %w", err)
		}
		return msg, nil
	}

	return nil, fmt.Errorf("unknown push event type: keys=%v", keysOf(raw))
}

// keysOf returns the sorted keys of a map.
func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
