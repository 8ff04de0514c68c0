// Package protocol defines the wire messages exchanged over a session
// connection. Both directions are closed sets: decoding returns a typed
// variant and anything outside the set is a decode error.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators, client to server.
const (
	TypeJoin           = "join"
	TypeDocumentChange = "document-change"
	TypeCursorMove     = "cursor-move"
	TypeTypingStart    = "typing-start"
	TypeTypingStop     = "typing-stop"
	TypeLanguageChange = "language-change"
	TypeLeave          = "leave"
	TypePing           = "ping"
)

// Message type discriminators, server to client.
const (
	TypeJoined            = "joined"
	TypeError             = "error"
	TypeDocumentUpdate    = "document-update"
	TypeCursorUpdate      = "cursor-update"
	TypeTypingUpdate      = "typing-update"
	TypeLanguageUpdate    = "language-update"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypePong              = "pong"
)

// Envelope is the outer frame: a type tag plus the type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Position is a cursor location within the document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ParticipantInfo describes one live participant as seen by peers.
type ParticipantInfo struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	Image        string    `json:"image,omitempty"`
	Cursor       *Position `json:"cursor,omitempty"`
	IsTyping     bool      `json:"isTyping"`
}

// Client-to-server payloads.

type Join struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Image       string `json:"image,omitempty"`
}

type DocumentChange struct {
	SessionID       string `json:"sessionId"`
	NewDocument     string `json:"newDocument"`
	ClientTimestamp int64  `json:"clientTimestamp"`
}

type CursorMove struct {
	SessionID string   `json:"sessionId"`
	Position  Position `json:"position"`
}

type TypingStart struct {
	SessionID string `json:"sessionId"`
}

type TypingStop struct {
	SessionID string `json:"sessionId"`
}

type LanguageChange struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

type Leave struct{}

type Ping struct{}

// Server-to-client payloads.

type Joined struct {
	Document     string            `json:"document"`
	Language     string            `json:"language"`
	Participants []ParticipantInfo `json:"participants"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type DocumentUpdate struct {
	Document           string `json:"document"`
	OriginUserID       string `json:"originUserId"`
	OriginConnectionID string `json:"originConnectionId"`
	Timestamp          int64  `json:"timestamp"`
}

type CursorUpdate struct {
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
}

type TypingUpdate struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type LanguageUpdate struct {
	Language string `json:"language"`
}

type ParticipantJoined struct {
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeft struct {
	UserID string `json:"userId"`
}

type Pong struct{}

// ClientMessage is the closed set of messages a client may send.
type ClientMessage interface{ clientMessage() }

func (Join) clientMessage()           {}
func (DocumentChange) clientMessage() {}
func (CursorMove) clientMessage()     {}
func (TypingStart) clientMessage()    {}
func (TypingStop) clientMessage()     {}
func (LanguageChange) clientMessage() {}
func (Leave) clientMessage()          {}
func (Ping) clientMessage()           {}

// ServerMessage is the closed set of messages the server may send.
type ServerMessage interface{ serverMessage() }

func (Joined) serverMessage()            {}
func (ErrorMessage) serverMessage()      {}
func (DocumentUpdate) serverMessage()    {}
func (CursorUpdate) serverMessage()      {}
func (TypingUpdate) serverMessage()      {}
func (LanguageUpdate) serverMessage()    {}
func (ParticipantJoined) serverMessage() {}
func (ParticipantLeft) serverMessage()   {}
func (Pong) serverMessage()              {}

// DecodeClient parses a frame sent by a client into its typed variant.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid frame: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		var m Join
		return m, unmarshalPayload(env, &m)
	case TypeDocumentChange:
		var m DocumentChange
		return m, unmarshalPayload(env, &m)
	case TypeCursorMove:
		var m CursorMove
		return m, unmarshalPayload(env, &m)
	case TypeTypingStart:
		var m TypingStart
		return m, unmarshalPayload(env, &m)
	case TypeTypingStop:
		var m TypingStop
		return m, unmarshalPayload(env, &m)
	case TypeLanguageChange:
		var m LanguageChange
		return m, unmarshalPayload(env, &m)
	case TypeLeave:
		return Leave{}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown client message type %q", env.Type)
	}
}

// DecodeServer parses a frame sent by the server into its typed variant.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid frame: %w", err)
	}

	switch env.Type {
	case TypeJoined:
		var m Joined
		return m, unmarshalPayload(env, &m)
	case TypeError:
		var m ErrorMessage
		return m, unmarshalPayload(env, &m)
	case TypeDocumentUpdate:
		var m DocumentUpdate
		return m, unmarshalPayload(env, &m)
	case TypeCursorUpdate:
		var m CursorUpdate
		return m, unmarshalPayload(env, &m)
	case TypeTypingUpdate:
		var m TypingUpdate
		return m, unmarshalPayload(env, &m)
	case TypeLanguageUpdate:
		var m LanguageUpdate
		return m, unmarshalPayload(env, &m)
	case TypeParticipantJoined:
		var m ParticipantJoined
		return m, unmarshalPayload(env, &m)
	case TypeParticipantLeft:
		var m ParticipantLeft
		return m, unmarshalPayload(env, &m)
	case TypePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %q", env.Type)
	}
}

func unmarshalPayload(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("protocol: %s message missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("protocol: bad %s payload: %w", env.Type, err)
	}
	return nil
}

// MarshalClient encodes a client message into a wire frame.
func MarshalClient(m ClientMessage) ([]byte, error) {
	return marshal(clientTypeOf(m), m)
}

// MarshalServer encodes a server message into a wire frame.
func MarshalServer(m ServerMessage) ([]byte, error) {
	return marshal(serverTypeOf(m), m)
}

func marshal(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

func clientTypeOf(m ClientMessage) string {
	switch m.(type) {
	case Join:
		return TypeJoin
	case DocumentChange:
		return TypeDocumentChange
	case CursorMove:
		return TypeCursorMove
	case TypingStart:
		return TypeTypingStart
	case TypingStop:
		return TypeTypingStop
	case LanguageChange:
		return TypeLanguageChange
	case Leave:
		return TypeLeave
	case Ping:
		return TypePing
	}
	return ""
}

func serverTypeOf(m ServerMessage) string {
	switch m.(type) {
	case Joined:
		return TypeJoined
	case ErrorMessage:
		return TypeError
	case DocumentUpdate:
		return TypeDocumentUpdate
	case CursorUpdate:
		return TypeCursorUpdate
	case TypingUpdate:
		return TypeTypingUpdate
	case LanguageUpdate:
		return TypeLanguageUpdate
	case ParticipantJoined:
		return TypeParticipantJoined
	case ParticipantLeft:
		return TypeParticipantLeft
	case Pong:
		return TypePong
	}
	return ""
}
