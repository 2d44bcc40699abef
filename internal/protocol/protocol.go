// Package protocol defines the websocket wire messages. Every frame is a JSON object
// with exactly one key naming the kind, e.g. {"HostChoice":{"categoryIndex":0,"questionIndex":2}}.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"buzzboard/internal/gamedata"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// Inbound is a message sent by a host or player. The set of implementations is closed.
type Inbound interface {
	Kind() string
}

type StartGame struct{}
type EndGame struct{}
type BuzzEnable struct{}
type BuzzDisable struct{}
type Buzz struct{}
type HostReady struct{}

type HostChecked struct {
	Correct bool
}

type HostChoice struct {
	CategoryIndex int
	QuestionIndex int
}

type Heartbeat struct {
	HBID int
}

type LatencyOfHeartbeat struct {
	HBID    int
	Latency int
}

func (StartGame) Kind() string          { return "StartGame" }
func (EndGame) Kind() string            { return "EndGame" }
func (BuzzEnable) Kind() string         { return "BuzzEnable" }
func (BuzzDisable) Kind() string        { return "BuzzDisable" }
func (Buzz) Kind() string               { return "Buzz" }
func (HostReady) Kind() string          { return "HostReady" }
func (HostChecked) Kind() string        { return "HostChecked" }
func (HostChoice) Kind() string         { return "HostChoice" }
func (Heartbeat) Kind() string          { return "Heartbeat" }
func (LatencyOfHeartbeat) Kind() string { return "LatencyOfHeartbeat" }

// Decode parses one inbound frame. Unknown kinds, extra keys, missing or unknown
// payload fields are rejected.
func Decode(data []byte) (Inbound, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(envelope) != 1 {
		return nil, fmt.Errorf("%w: want exactly one kind, got %d keys", ErrMalformed, len(envelope))
	}

	for kind, payload := range envelope {
		switch kind {
		case "StartGame":
			return StartGame{}, decodeEmpty(kind, payload)
		case "EndGame":
			return EndGame{}, decodeEmpty(kind, payload)
		case "BuzzEnable":
			return BuzzEnable{}, decodeEmpty(kind, payload)
		case "BuzzDisable":
			return BuzzDisable{}, decodeEmpty(kind, payload)
		case "Buzz":
			return Buzz{}, decodeEmpty(kind, payload)
		case "HostReady":
			return HostReady{}, decodeEmpty(kind, payload)
		case "HostChecked":
			var p struct {
				Correct *bool `json:"correct"`
			}
			if err := decodeStrict(kind, payload, &p); err != nil {
				return nil, err
			}
			if p.Correct == nil {
				return nil, fmt.Errorf("%w: %s missing correct", ErrMalformed, kind)
			}
			return HostChecked{Correct: *p.Correct}, nil
		case "HostChoice":
			var p struct {
				CategoryIndex *int `json:"categoryIndex"`
				QuestionIndex *int `json:"questionIndex"`
			}
			if err := decodeStrict(kind, payload, &p); err != nil {
				return nil, err
			}
			if p.CategoryIndex == nil || p.QuestionIndex == nil {
				return nil, fmt.Errorf("%w: %s missing index", ErrMalformed, kind)
			}
			if *p.CategoryIndex < 0 || *p.QuestionIndex < 0 {
				return nil, fmt.Errorf("%w: %s negative index", ErrMalformed, kind)
			}
			return HostChoice{CategoryIndex: *p.CategoryIndex, QuestionIndex: *p.QuestionIndex}, nil
		case "Heartbeat":
			var p struct {
				HBID *int `json:"hbid"`
			}
			if err := decodeStrict(kind, payload, &p); err != nil {
				return nil, err
			}
			if p.HBID == nil {
				return nil, fmt.Errorf("%w: %s missing hbid", ErrMalformed, kind)
			}
			return Heartbeat{HBID: *p.HBID}, nil
		case "LatencyOfHeartbeat":
			var p struct {
				HBID    *int `json:"hbid"`
				Latency *int `json:"t_lat"`
			}
			if err := decodeStrict(kind, payload, &p); err != nil {
				return nil, err
			}
			if p.HBID == nil || p.Latency == nil {
				return nil, fmt.Errorf("%w: %s missing hbid or t_lat", ErrMalformed, kind)
			}
			if *p.Latency < 0 {
				return nil, fmt.Errorf("%w: %s negative latency", ErrMalformed, kind)
			}
			return LatencyOfHeartbeat{HBID: *p.HBID, Latency: *p.Latency}, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
	}
	return nil, ErrMalformed
}

func decodeEmpty(kind string, payload json.RawMessage) error {
	var p struct{}
	return decodeStrict(kind, payload, &p)
}

func decodeStrict(kind string, payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s payload must be an object", ErrMalformed, kind)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

// Outbound is a message sent to a host or player.
type Outbound interface {
	Kind() string
}

type NewPlayer struct {
	PID   int    `json:"pid"`
	Token string `json:"token"`
}

type PlayerEntry struct {
	PID       int    `json:"pid"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
	Latency   int    `json:"latency"`
}

type PlayerList []PlayerEntry

type BuzzEnabled struct{}
type BuzzDisabled struct{}
type GameStarted struct{}
type GameEnded struct{}

type Buzzed struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

type AnswerResult struct {
	PID      int  `json:"pid"`
	Correct  bool `json:"correct"`
	NewScore int  `json:"newScore"`
}

type GameState gamedata.Snapshot

type GotHeartbeat struct {
	HBID int `json:"hbid"`
}

func (NewPlayer) Kind() string    { return "NewPlayer" }
func (PlayerList) Kind() string   { return "PlayerList" }
func (BuzzEnabled) Kind() string  { return "BuzzEnabled" }
func (BuzzDisabled) Kind() string { return "BuzzDisabled" }
func (GameStarted) Kind() string  { return "GameStarted" }
func (GameEnded) Kind() string    { return "GameEnded" }
func (Buzzed) Kind() string       { return "Buzzed" }
func (AnswerResult) Kind() string { return "AnswerResult" }
func (GameState) Kind() string    { return "GameState" }
func (GotHeartbeat) Kind() string { return "GotHeartbeat" }

// Encode wraps msg in its single-key envelope.
func Encode(msg Outbound) ([]byte, error) {
	if l, ok := msg.(PlayerList); ok && l == nil {
		msg = PlayerList{}
	}
	data, err := json.Marshal(map[string]Outbound{msg.Kind(): msg})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Kind(), err)
	}
	return data, nil
}
