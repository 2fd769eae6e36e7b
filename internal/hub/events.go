// events.go
// Wire format shared by the hub and the transport. Every frame is a JSON
// object {"event": name, "data": payload}; the payload shapes below are what
// the browser client emits and listens for.

package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventJoin             = "join"
	EventOnlineUsers      = "onlineUsers"
	EventRequestPublicKey = "requestPublicKey"
	EventPublicKeyRequest = "publicKeyRequest"
	EventSharePublicKey   = "sharePublicKey"
	EventReceivePublicKey = "receivePublicKey"
	EventSendMessage      = "sendMessage"
	EventReceiveMessage   = "receiveMessage"
)

var (
	ErrMalformedFrame = errors.New("hub: malformed frame")
	ErrUnknownEvent   = errors.New("hub: unknown event")
)

// UserID is the external identity a client joins as. Clients send it as a
// string, but a bare JSON number is accepted too.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// Frame is one message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload announces the identity behind a connection.
type JoinPayload struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// PresenceEntry is one row of the onlineUsers snapshot.
type PresenceEntry struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// KeyRequest asks the hub to forward a key request from one user to another.
type KeyRequest struct {
	FromUserID UserID `json:"fromUserId"`
	ToUserID   UserID `json:"toUserId"`
}

// KeyRequestNotice is delivered to the user whose key was requested.
// RequestID is only set when strict handshakes are enabled.
type KeyRequestNotice struct {
	FromUserID UserID `json:"fromUserId"`
	RequestID  string `json:"requestId,omitempty"`
}

// KeyShare answers a key request. FromUserID owns the key, ToUserID asked for it.
type KeyShare struct {
	FromUserID UserID `json:"fromUserId"`
	ToUserID   UserID `json:"toUserId"`
	Approved   bool   `json:"approved"`
	RequestID  string `json:"requestId,omitempty"`
}

// KeyDelivery carries exported key material to the requester.
type KeyDelivery struct {
	FromUserID UserID `json:"fromUserId"`
	PublicKey  string `json:"publicKey"`
}

// OutgoingMessage is a chat message as sent by a client.
type OutgoingMessage struct {
	FromUserID UserID `json:"fromUserId"`
	ToUserID   UserID `json:"toUserId"`
	Message    string `json:"message"`
}

// ChatMessage is a chat message as delivered to both parties.
type ChatMessage struct {
	FromUserID   UserID `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
	Message      string `json:"message"`
}

// EncodeFrame marshals data under the given event name.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodeFrame parses a frame envelope without decoding its payload.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return f, nil
}

func decodePayload(f Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Event, err)
	}
	return nil
}
