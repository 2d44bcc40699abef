package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"buzzboard/internal/board"
	"buzzboard/internal/gamedata"
)

func TestDecode_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want Inbound
	}{
		{`{"StartGame":{}}`, StartGame{}},
		{`{"EndGame":{}}`, EndGame{}},
		{`{"BuzzEnable":{}}`, BuzzEnable{}},
		{`{"BuzzDisable":{}}`, BuzzDisable{}},
		{`{"Buzz":{}}`, Buzz{}},
		{`{"HostReady":{}}`, HostReady{}},
		{`{"HostChecked":{"correct":true}}`, HostChecked{Correct: true}},
		{`{"HostChecked":{"correct":false}}`, HostChecked{Correct: false}},
		{`{"HostChoice":{"categoryIndex":1,"questionIndex":3}}`, HostChoice{CategoryIndex: 1, QuestionIndex: 3}},
		{`{"Heartbeat":{"hbid":7}}`, Heartbeat{HBID: 7}},
		{`{"LatencyOfHeartbeat":{"hbid":7,"t_lat":42}}`, LatencyOfHeartbeat{HBID: 7, Latency: 42}},
	}

	for _, tt := range tests {
		got, err := Decode([]byte(tt.in))
		if err != nil {
			t.Errorf("Decode(%s) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Decode(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"Teleport":{}}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("error = %v, want ErrUnknownKind", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		``,
		`not json`,
		`[]`,
		`{}`,
		`{"Buzz":{},"StartGame":{}}`,
		`{"Buzz":null}`,
		`{"Buzz":"now"}`,
		`{"Buzz":{"extra":1}}`,
		`{"HostChecked":{}}`,
		`{"HostChecked":{"correct":"yes"}}`,
		`{"HostChoice":{"categoryIndex":1}}`,
		`{"HostChoice":{"categoryIndex":-1,"questionIndex":0}}`,
		`{"HostChoice":{"categoryIndex":1.5,"questionIndex":0}}`,
		`{"Heartbeat":{}}`,
		`{"LatencyOfHeartbeat":{"hbid":1}}`,
		`{"LatencyOfHeartbeat":{"hbid":1,"t_lat":-3}}`,
	}

	for _, in := range tests {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestEncode_Envelope(t *testing.T) {
	tests := []struct {
		msg  Outbound
		want string
	}{
		{NewPlayer{PID: 3, Token: "abc"}, `{"NewPlayer":{"pid":3,"token":"abc"}}`},
		{BuzzEnabled{}, `{"BuzzEnabled":{}}`},
		{BuzzDisabled{}, `{"BuzzDisabled":{}}`},
		{GameStarted{}, `{"GameStarted":{}}`},
		{GameEnded{}, `{"GameEnded":{}}`},
		{Buzzed{PID: 2, Name: "Bob"}, `{"Buzzed":{"pid":2,"name":"Bob"}}`},
		{AnswerResult{PID: 2, Correct: true, NewScore: 400}, `{"AnswerResult":{"pid":2,"correct":true,"newScore":400}}`},
		{GotHeartbeat{HBID: 9}, `{"GotHeartbeat":{"hbid":9}}`},
		{PlayerList(nil), `{"PlayerList":[]}`},
		{
			PlayerList{{PID: 1, Name: "A", Score: 100, Connected: true, Latency: 12}},
			`{"PlayerList":[{"pid":1,"name":"A","score":100,"connected":true,"latency":12}]}`,
		},
	}

	for _, tt := range tests {
		got, err := Encode(tt.msg)
		if err != nil {
			t.Errorf("Encode(%T) error: %v", tt.msg, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("Encode(%T) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestEncode_GameState(t *testing.T) {
	m := gamedata.NewMachine(board.Board{
		{Title: "Science", Questions: []board.Question{{Prompt: "H2O", Answer: "Water", Value: 100}}},
	}, []gamedata.PlayerState{{PID: 1, Name: "A"}})
	snap, err := m.Choose(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	data, err := Encode(GameState(snap))
	if err != nil {
		t.Fatal(err)
	}

	var env map[string]struct {
		State           string          `json:"state"`
		Categories      json.RawMessage `json:"categories"`
		Players         []struct{}      `json:"players"`
		CurrentQuestion []int           `json:"currentQuestion"`
		CurrentBuzzer   *int            `json:"currentBuzzer"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	gs, ok := env["GameState"]
	if !ok {
		t.Fatalf("missing GameState key in %s", data)
	}
	if gs.State != "questionReading" {
		t.Errorf("state = %q, want questionReading", gs.State)
	}
	if len(gs.CurrentQuestion) != 2 || gs.CurrentQuestion[0] != 0 || gs.CurrentQuestion[1] != 0 {
		t.Errorf("currentQuestion = %v, want [0 0]", gs.CurrentQuestion)
	}
	if gs.CurrentBuzzer != nil {
		t.Errorf("currentBuzzer = %v, want null", *gs.CurrentBuzzer)
	}
	if len(gs.Players) != 1 {
		t.Errorf("players = %d, want 1", len(gs.Players))
	}
}
