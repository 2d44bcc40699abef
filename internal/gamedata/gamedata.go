package gamedata

import (
	"errors"
	"slices"

	"buzzboard/internal/board"
)

// State is a node of the round state machine.
type State string

const (
	StateSelection       = State("selection")
	StateQuestionReading = State("questionReading")
	StateWaitingForBuzz  = State("waitingForBuzz")
	StateAnswer          = State("answer")
	StateGameEnd         = State("gameEnd")
)

var (
	ErrIllegalTransition  = errors.New("event not accepted in current state")
	ErrPlayerExcluded     = errors.New("player already answered this question")
	ErrUnknownPlayer      = errors.New("player is not part of the game")
	ErrQuestionOutOfRange = errors.New("question index out of range")
	ErrQuestionAnswered   = errors.New("question already answered")
)

// PlayerState is the machine's own view of a participant.
type PlayerState struct {
	PID   int    `json:"pid"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Snapshot is the full game view sent to the host after every transition.
type Snapshot struct {
	State           State         `json:"state"`
	Categories      board.Board   `json:"categories"`
	Players         []PlayerState `json:"players"`
	CurrentQuestion *[2]int       `json:"currentQuestion"`
	CurrentBuzzer   *int          `json:"currentBuzzer"`
}

// Machine holds the session context of one playing period. It performs no I/O and
// is not safe for concurrent use; the owning room serializes access.
type Machine struct {
	state           State
	categories      board.Board
	players         []PlayerState
	currentQuestion *[2]int
	currentBuzzer   *int
	excluded        map[int]bool
}

// NewMachine seeds a machine in the selection state. The board is copied.
func NewMachine(categories board.Board, players []PlayerState) *Machine {
	return &Machine{
		state:      StateSelection,
		categories: categories.Clone(),
		players:    slices.Clone(players),
		excluded:   make(map[int]bool),
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Done() bool {
	return m.state == StateGameEnd
}

// CurrentQuestion returns the question under discussion.
func (m *Machine) CurrentQuestion() (board.Question, bool) {
	if m.currentQuestion == nil {
		return board.Question{}, false
	}
	ci, qi := m.currentQuestion[0], m.currentQuestion[1]
	return m.categories[ci].Questions[qi], true
}

func (m *Machine) CurrentBuzzer() (int, bool) {
	if m.currentBuzzer == nil {
		return 0, false
	}
	return *m.currentBuzzer, true
}

func (m *Machine) IsExcluded(pid int) bool {
	return m.excluded[pid]
}

func (m *Machine) HasPlayer(pid int) bool {
	return m.indexOf(pid) >= 0
}

// Eligible lists the players who may still buzz on the current question.
func (m *Machine) Eligible() []PlayerState {
	out := make([]PlayerState, 0, len(m.players))
	for _, p := range m.players {
		if !m.excluded[p.PID] {
			out = append(out, p)
		}
	}
	return out
}

func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:      m.state,
		Categories: m.categories.Clone(),
		Players:    slices.Clone(m.players),
	}
	if s.Players == nil {
		s.Players = []PlayerState{}
	}
	if s.Categories == nil {
		s.Categories = board.Board{}
	}
	if m.currentQuestion != nil {
		q := *m.currentQuestion
		s.CurrentQuestion = &q
	}
	if m.currentBuzzer != nil {
		b := *m.currentBuzzer
		s.CurrentBuzzer = &b
	}
	return s
}

// Choose selects the question the host will read.
func (m *Machine) Choose(categoryIndex, questionIndex int) (Snapshot, error) {
	if m.state != StateSelection {
		return Snapshot{}, ErrIllegalTransition
	}
	if categoryIndex < 0 || categoryIndex >= len(m.categories) {
		return Snapshot{}, ErrQuestionOutOfRange
	}
	qs := m.categories[categoryIndex].Questions
	if questionIndex < 0 || questionIndex >= len(qs) {
		return Snapshot{}, ErrQuestionOutOfRange
	}
	if qs[questionIndex].Answered {
		return Snapshot{}, ErrQuestionAnswered
	}

	m.currentQuestion = &[2]int{categoryIndex, questionIndex}
	m.currentBuzzer = nil
	clear(m.excluded)
	m.state = StateQuestionReading
	return m.Snapshot(), nil
}

// Ready opens buzzing once the host has read the question.
func (m *Machine) Ready() (Snapshot, error) {
	if m.state != StateQuestionReading {
		return Snapshot{}, ErrIllegalTransition
	}
	m.state = StateWaitingForBuzz
	return m.Snapshot(), nil
}

// Buzz records pid as the player under judgment and excludes it from further buzzes
// on this question.
func (m *Machine) Buzz(pid int) (Snapshot, error) {
	if m.state != StateWaitingForBuzz {
		return Snapshot{}, ErrIllegalTransition
	}
	if m.indexOf(pid) < 0 {
		return Snapshot{}, ErrUnknownPlayer
	}
	if m.excluded[pid] {
		return Snapshot{}, ErrPlayerExcluded
	}

	m.currentBuzzer = &pid
	m.excluded[pid] = true
	m.state = StateAnswer
	return m.Snapshot(), nil
}

// Correct awards the question value to the buzzer and returns the points awarded.
func (m *Machine) Correct() (Snapshot, int, error) {
	if m.state != StateAnswer || m.currentBuzzer == nil || m.currentQuestion == nil {
		return Snapshot{}, 0, ErrIllegalTransition
	}

	q, _ := m.CurrentQuestion()
	if i := m.indexOf(*m.currentBuzzer); i >= 0 {
		m.players[i].Score += q.Value
	}
	m.concludeQuestion()
	return m.Snapshot(), q.Value, nil
}

// Incorrect reopens buzzing for the remaining eligible players, or concludes the
// question when none remain.
func (m *Machine) Incorrect() (Snapshot, error) {
	if m.state != StateAnswer || m.currentBuzzer == nil || m.currentQuestion == nil {
		return Snapshot{}, ErrIllegalTransition
	}

	if len(m.Eligible()) > 0 {
		m.currentBuzzer = nil
		m.state = StateWaitingForBuzz
		return m.Snapshot(), nil
	}
	m.concludeQuestion()
	return m.Snapshot(), nil
}

// Join adds a player to the mirror. Re-joining an existing pid is a no-op.
func (m *Machine) Join(pid int, name string) error {
	if m.state == StateGameEnd {
		return ErrIllegalTransition
	}
	if m.indexOf(pid) >= 0 {
		return nil
	}
	m.players = append(m.players, PlayerState{PID: pid, Name: name})
	return nil
}

// Leave drops a player from the mirror.
func (m *Machine) Leave(pid int) error {
	if m.state == StateGameEnd {
		return ErrIllegalTransition
	}
	i := m.indexOf(pid)
	if i < 0 {
		return ErrUnknownPlayer
	}
	m.players = slices.Delete(m.players, i, i+1)
	return nil
}

func (m *Machine) concludeQuestion() {
	ci, qi := m.currentQuestion[0], m.currentQuestion[1]
	m.categories[ci].Questions[qi].Answered = true
	m.currentQuestion = nil
	m.currentBuzzer = nil
	clear(m.excluded)

	if m.categories.Remaining() == 0 {
		m.state = StateGameEnd
	} else {
		m.state = StateSelection
	}
}

func (m *Machine) indexOf(pid int) int {
	return slices.IndexFunc(m.players, func(p PlayerState) bool { return p.PID == pid })
}
