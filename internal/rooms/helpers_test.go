package rooms

import (
	"encoding/json"
	"sync"
	"testing"

	"buzzboard/internal/board"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed string
}

func (f *fakeConn) Deliver(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed != "" {
		return false
	}
	f.frames = append(f.frames, data)
	return true
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == "" {
		f.closed = reason
	}
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed != ""
}

// kinds lists the envelope key of every frame received so far.
func (f *fakeConn) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, data := range f.frames {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		for k := range env {
			out = append(out, k)
		}
	}
	return out
}

func (f *fakeConn) count(kind string) int {
	n := 0
	for _, k := range f.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// last decodes the payload of the most recent frame of the given kind into v.
func (f *fakeConn) last(t *testing.T, kind string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(f.frames[i], &env); err != nil {
			continue
		}
		if payload, ok := env[kind]; ok {
			if err := json.Unmarshal(payload, v); err != nil {
				t.Fatalf("decoding %s: %v", kind, err)
			}
			return
		}
	}
	t.Fatalf("no %s frame received", kind)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func twoByOne() board.Board {
	return board.Board{
		{Title: "Science", Questions: []board.Question{{Prompt: "H2O", Answer: "Water", Value: 100}}},
		{Title: "History", Questions: []board.Question{{Prompt: "1066", Answer: "Hastings", Value: 200}}},
	}
}
