package rooms

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"buzzboard/internal/board"
	"buzzboard/internal/events"
	"buzzboard/internal/gamedata"
	"buzzboard/internal/players"
	"buzzboard/internal/protocol"
)

var (
	ErrGameInProgress = errors.New("game already in progress")
	ErrNoActiveGame   = errors.New("no game in progress")
	ErrGameEnded      = errors.New("game has ended")
	ErrEmptyBoard     = errors.New("board has no unanswered questions")
	ErrPlayerNotFound = errors.New("player not found")
	ErrInvalidToken   = errors.New("invalid token")
	ErrBuzzingClosed  = errors.New("buzzing is not open")
	ErrRoomClosed     = errors.New("room is closed")
)

// GameState is the coarse lifecycle of a room. It only moves forward.
type GameState string

const (
	StateLobby   = GameState("lobby")
	StatePlaying = GameState("playing")
	StateEnded   = GameState("ended")
)

type RoomConfig struct {
	// Bus receives a GameResult whenever a game finishes. Optional.
	Bus *events.Bus
	// PlayerTimeout removes players that stay disconnected this long. Zero disables.
	PlayerTimeout time.Duration
}

// PlayerView is a detached copy of a player's public state.
type PlayerView struct {
	PID       int
	Name      string
	Score     int
	CanBuzz   bool
	Connected bool
	Latency   int
}

// Room owns one game session. Every exported method takes the room lock for its whole
// duration and never performs blocking I/O: outbound frames are queued on each
// connection's non-blocking send queue.
type Room struct {
	Code      string
	HostToken string
	CreatedAt time.Time

	cfg RoomConfig

	mu             sync.Mutex
	categories     board.Board
	players        *players.Store
	host           players.Conn
	gameState      GameState
	machine        *gamedata.Machine
	buzzingEnabled bool
	startedAt      time.Time
	lastActive     time.Time
	closed         bool
	removals       map[int]*time.Timer
}

func NewRoom(code, hostToken string, categories board.Board, cfg RoomConfig) *Room {
	now := time.Now()
	return &Room{
		Code:       code,
		HostToken:  hostToken,
		CreatedAt:  now,
		cfg:        cfg,
		categories: categories.Clone(),
		players:    players.NewStore(),
		gameState:  StateLobby,
		lastActive: now,
		removals:   make(map[int]*time.Timer),
	}
}

// IsHostToken compares in constant time.
func (r *Room) IsHostToken(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.HostToken)) == 1
}

func (r *Room) State() GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameState
}

func (r *Room) BuzzingEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buzzingEnabled
}

// Snapshot returns the machine's view, if a game is being played.
func (r *Room) Snapshot() (gamedata.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return gamedata.Snapshot{}, false
	}
	return r.machine.Snapshot(), true
}

func (r *Room) Player(pid int) (PlayerView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players.Get(pid)
	if p == nil {
		return PlayerView{}, false
	}
	return viewOf(p), true
}

// CheckPlayer verifies a reconnection credential without binding anything.
func (r *Room) CheckPlayer(pid int, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.authPlayer(pid, token)
	return err
}

func (r *Room) PlayerList() protocol.PlayerList {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerList()
}

func (r *Room) HostConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host != nil
}

// Idle reports how long the room has gone without activity. A room with any live
// connection is never idle.
func (r *Room) Idle(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != nil {
		return 0
	}
	for _, p := range r.players.GetList() {
		if p.Connected() {
			return 0
		}
	}
	return now.Sub(r.lastActive)
}

// AddPlayer allocates the next pid with a fresh token. Allowed in any state.
func (r *Room) AddPlayer(name string) (*players.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	r.touch()
	return r.players.Add(name, GenerateToken()), nil
}

// JoinPlayer adds a new player and binds conn to it in one step. The player receives
// its NewPlayer credential before anything else.
func (r *Room) JoinPlayer(name string, conn players.Conn) (*players.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	r.touch()
	p := r.players.Add(name, GenerateToken())
	p.Connect(conn)
	r.send(conn, protocol.NewPlayer{PID: p.PID, Token: p.Token})
	r.afterPlayerConnect(p)
	log.Printf("[Room %s] Player %s (%d) joined\n", r.Code, p.Name, p.PID)
	return p, nil
}

// ConnectPlayer binds conn to an existing player after re-checking its token, and
// returns the handle it replaced. The caller closes the replaced handle.
func (r *Room) ConnectPlayer(pid int, token string, conn players.Conn) (players.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	p, err := r.authPlayer(pid, token)
	if err != nil {
		return nil, err
	}
	r.touch()
	prev := p.Connect(conn)
	r.afterPlayerConnect(p)
	log.Printf("[Room %s] Player %s (%d) reconnected\n", r.Code, p.Name, p.PID)
	return prev, nil
}

func (r *Room) afterPlayerConnect(p *players.Player) {
	if t, ok := r.removals[p.PID]; ok {
		t.Stop()
		delete(r.removals, p.PID)
	}
	if r.machine != nil && !r.machine.HasPlayer(p.PID) {
		if err := r.machine.Join(p.PID, p.Name); err == nil {
			r.sendSnapshotToHost()
		}
	}
	if r.buzzingEnabled && r.eligible(p) {
		p.Send(encode(protocol.BuzzEnabled{}))
	}
	r.sendPlayerList()
}

// DisconnectPlayer detaches conn if it is still the player's live handle. A stale
// handle closing after a reconnect is ignored.
func (r *Room) DisconnectPlayer(pid int, conn players.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players.Get(pid)
	if p == nil || !p.Disconnect(conn) {
		return false
	}
	r.touch()
	r.sendPlayerList()
	if r.cfg.PlayerTimeout > 0 && !r.closed {
		r.scheduleRemoval(pid)
	}
	log.Printf("[Room %s] Player %s (%d) disconnected\n", r.Code, p.Name, p.PID)
	return true
}

func (r *Room) scheduleRemoval(pid int) {
	if t, ok := r.removals[pid]; ok {
		t.Stop()
	}
	r.removals[pid] = time.AfterFunc(r.cfg.PlayerTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.removals, pid)
		p := r.players.Get(pid)
		if p == nil || p.Connected() || r.closed {
			return
		}
		r.removePlayer(pid)
		log.Printf("[Room %s] Player %s (%d) timed out\n", r.Code, p.Name, pid)
	})
}

// RemovePlayer deletes the player row, closes its connection and drops it from the
// active game.
func (r *Room) RemovePlayer(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players.Get(pid) == nil {
		return ErrPlayerNotFound
	}
	r.touch()
	if t, ok := r.removals[pid]; ok {
		t.Stop()
		delete(r.removals, pid)
	}
	r.removePlayer(pid)
	return nil
}

func (r *Room) removePlayer(pid int) {
	p := r.players.Remove(pid)
	if p == nil {
		return
	}
	if c := p.Conn(); c != nil {
		p.Disconnect(c)
		c.Close("removed from room")
	}
	if r.machine != nil && r.machine.HasPlayer(pid) {
		buzzer, answering := r.machine.CurrentBuzzer()
		if err := r.machine.Leave(pid); err == nil {
			if answering && buzzer == pid {
				r.dropBuzzer()
			} else {
				r.sendSnapshotToHost()
			}
		}
	}
	r.sendPlayerList()
}

// dropBuzzer resolves an answer whose buzzer left the room: nobody is judged, and buzzing
// reopens for whoever is still eligible.
func (r *Room) dropBuzzer() {
	snap, err := r.machine.Incorrect()
	if err != nil {
		return
	}
	if snap.State == gamedata.StateWaitingForBuzz {
		r.openBuzzingForEligible()
	}
	r.sendToHost(encode(protocol.GameState(snap)))
	if snap.State == gamedata.StateGameEnd {
		r.finish()
	}
}

// ConnectHost binds conn as the host and returns the handle it replaced. The caller
// closes the replaced handle.
func (r *Room) ConnectHost(conn players.Conn) (players.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	r.touch()
	prev := r.host
	r.host = conn
	r.sendPlayerList()
	if r.machine != nil {
		r.sendSnapshotToHost()
	}
	if r.buzzingEnabled {
		r.send(conn, protocol.BuzzEnabled{})
	}
	log.Printf("[Room %s] Host connected\n", r.Code)
	return prev, nil
}

// DisconnectHost clears the host only if conn is still the bound one.
func (r *Room) DisconnectHost(conn players.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host == nil || r.host != conn {
		return false
	}
	r.host = nil
	r.touch()
	log.Printf("[Room %s] Host disconnected\n", r.Code)
	return true
}

// Broadcast sends to every connected player.
func (r *Room) Broadcast(msg protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast(encode(msg))
}

func (r *Room) SendToHost(msg protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToHost(encode(msg))
}

func (r *Room) BroadcastToAll(msg protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastToAll(encode(msg))
}

// StartGame seeds a machine from the current players and the room's board.
func (r *Room) StartGame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrRoomClosed
	case r.gameState == StatePlaying:
		return ErrGameInProgress
	case r.gameState == StateEnded:
		return ErrGameEnded
	case r.categories.Remaining() == 0:
		return ErrEmptyBoard
	}
	r.touch()

	roster := make([]gamedata.PlayerState, 0, r.players.Len())
	for _, p := range r.players.GetList() {
		roster = append(roster, gamedata.PlayerState{PID: p.PID, Name: p.Name, Score: p.Score})
	}
	r.machine = gamedata.NewMachine(r.categories, roster)
	r.gameState = StatePlaying
	r.startedAt = time.Now()
	r.buzzingEnabled = false
	r.players.ResetBuzz()

	r.broadcastToAll(encode(protocol.GameStarted{}))
	r.sendSnapshotToHost()
	log.Printf("[Room %s] Game started with %d players\n", r.Code, len(roster))
	return nil
}

// EndGame is safe to call repeatedly and with no game in progress: the room ends up
// ended and every participant is told so.
func (r *Room) EndGame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	r.finish()
}

func (r *Room) finish() {
	m := r.machine
	r.machine = nil
	r.gameState = StateEnded
	r.buzzingEnabled = false
	r.broadcastToAll(encode(protocol.GameEnded{}))

	if m == nil {
		return
	}
	snap := m.Snapshot()
	standings := make([]events.Standing, 0, len(snap.Players))
	for _, ps := range snap.Players {
		st := events.Standing{PID: ps.PID, Name: ps.Name, Score: ps.Score}
		if p := r.players.Get(ps.PID); p != nil {
			st.Correct = p.Correct
			st.Incorrect = p.Incorrect
			st.AvgLatency = p.AverageLatency()
		}
		standings = append(standings, st)
	}
	result := events.GameResult{
		RoomCode:  r.Code,
		StartedAt: r.startedAt,
		EndedAt:   time.Now(),
		Standings: events.Rank(standings),
	}
	if r.cfg.Bus != nil && !r.cfg.Bus.Publish(result) {
		log.Printf("[Room %s] Results bus full, dropping game result\n", r.Code)
	}
	log.Printf("[Room %s] Game ended\n", r.Code)
}

// HandlePlayerBuzz resolves a buzz race. The first buzz processed while buzzing is open
// wins; the gate closes before anything is sent.
func (r *Room) HandlePlayerBuzz(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil || !r.buzzingEnabled {
		return false
	}
	p := r.players.Get(pid)
	if p == nil || !p.CanBuzz {
		return false
	}
	snap, err := r.machine.Buzz(pid)
	if err != nil {
		return false
	}
	r.buzzingEnabled = false
	r.touch()

	r.sendToHost(encode(protocol.Buzzed{PID: p.PID, Name: p.Name}))
	r.broadcastToAll(encode(protocol.BuzzDisabled{}))
	r.sendToHost(encode(protocol.GameState(snap)))
	log.Printf("[Room %s] Player %s (%d) buzzed\n", r.Code, p.Name, p.PID)
	return true
}

// HandleHostChoice selects the question the host is about to read.
func (r *Room) HandleHostChoice(categoryIndex, questionIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return ErrNoActiveGame
	}
	snap, err := r.machine.Choose(categoryIndex, questionIndex)
	if err != nil {
		return err
	}
	r.touch()
	r.buzzingEnabled = false
	r.sendToHost(encode(protocol.GameState(snap)))
	return nil
}

// HandleHostReady opens buzzing for every player once the question has been read.
func (r *Room) HandleHostReady() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return ErrNoActiveGame
	}
	snap, err := r.machine.Ready()
	if err != nil {
		return err
	}
	r.touch()
	r.players.ResetBuzz()
	r.buzzingEnabled = true
	r.broadcastToAll(encode(protocol.BuzzEnabled{}))
	r.sendToHost(encode(protocol.GameState(snap)))
	return nil
}

// HandleHostCorrect credits the current buzzer with the question's value.
func (r *Room) HandleHostCorrect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return ErrNoActiveGame
	}
	pid, ok := r.machine.CurrentBuzzer()
	if !ok {
		return gamedata.ErrIllegalTransition
	}
	p := r.players.Get(pid)
	if p == nil {
		return ErrPlayerNotFound
	}
	snap, awarded, err := r.machine.Correct()
	if err != nil {
		return err
	}
	r.touch()

	p.AddScore(awarded)
	p.RecordAnswer(true)
	r.broadcastToAll(encode(protocol.AnswerResult{PID: pid, Correct: true, NewScore: p.Score}))
	r.sendPlayerList()
	r.sendToHost(encode(protocol.GameState(snap)))
	if snap.State == gamedata.StateGameEnd {
		r.finish()
	}
	return nil
}

// HandleHostIncorrect bars the current buzzer from this question and reopens buzzing
// for whoever is still eligible.
func (r *Room) HandleHostIncorrect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return ErrNoActiveGame
	}
	pid, ok := r.machine.CurrentBuzzer()
	if !ok {
		return gamedata.ErrIllegalTransition
	}
	p := r.players.Get(pid)
	if p == nil {
		return ErrPlayerNotFound
	}
	snap, err := r.machine.Incorrect()
	if err != nil {
		return err
	}
	r.touch()

	p.DisableBuzz()
	p.RecordAnswer(false)
	r.broadcastToAll(encode(protocol.AnswerResult{PID: pid, Correct: false, NewScore: p.Score}))

	if snap.State == gamedata.StateWaitingForBuzz {
		r.openBuzzingForEligible()
	}
	r.sendToHost(encode(protocol.GameState(snap)))
	if snap.State == gamedata.StateGameEnd {
		r.finish()
	}
	return nil
}

// EnableBuzzing reopens the gate directly. It only succeeds while the machine is waiting
// for a buzz.
func (r *Room) EnableBuzzing() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine == nil {
		return ErrNoActiveGame
	}
	if r.machine.State() != gamedata.StateWaitingForBuzz {
		return ErrBuzzingClosed
	}
	r.touch()
	r.openBuzzingForEligible()
	return nil
}

// DisableBuzzing closes the gate. Allowed at any time.
func (r *Room) DisableBuzzing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	r.buzzingEnabled = false
	r.broadcastToAll(encode(protocol.BuzzDisabled{}))
}

func (r *Room) openBuzzingForEligible() {
	r.buzzingEnabled = true
	data := encode(protocol.BuzzEnabled{})
	for _, p := range r.players.GetList() {
		if r.eligible(p) {
			p.Send(data)
		}
	}
	r.sendToHost(data)
}

// RecordLatency stores a heartbeat round trip reported by a player.
func (r *Room) RecordLatency(pid, ms int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players.Get(pid)
	if p == nil {
		return ErrPlayerNotFound
	}
	p.RecordLatency(ms)
	r.touch()
	return nil
}

// Touch marks the room as active.
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
}

// Cleanup closes every connection and stops pending removals. The room accepts no new
// connections afterwards.
func (r *Room) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.machine != nil {
		r.finish()
	}
	for pid, t := range r.removals {
		t.Stop()
		delete(r.removals, pid)
	}
	for _, p := range r.players.GetList() {
		if c := p.Conn(); c != nil {
			p.Disconnect(c)
			c.Close("room closed")
		}
	}
	if r.host != nil {
		r.host.Close("room closed")
		r.host = nil
	}
	r.buzzingEnabled = false
}

func (r *Room) authPlayer(pid int, token string) (*players.Player, error) {
	p := r.players.Get(pid)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.Token)) != 1 {
		return nil, ErrInvalidToken
	}
	return p, nil
}

func (r *Room) eligible(p *players.Player) bool {
	return p.CanBuzz && r.machine != nil && !r.machine.IsExcluded(p.PID)
}

func (r *Room) touch() {
	r.lastActive = time.Now()
}

func (r *Room) playerList() protocol.PlayerList {
	list := make(protocol.PlayerList, 0, r.players.Len())
	for _, p := range r.players.GetList() {
		list = append(list, protocol.PlayerEntry{
			PID:       p.PID,
			Name:      p.Name,
			Score:     p.Score,
			Connected: p.Connected(),
			Latency:   p.AverageLatency(),
		})
	}
	return list
}

func (r *Room) sendPlayerList() {
	if r.host == nil {
		return
	}
	r.sendToHost(encode(r.playerList()))
}

func (r *Room) sendSnapshotToHost() {
	if r.host == nil || r.machine == nil {
		return
	}
	r.sendToHost(encode(protocol.GameState(r.machine.Snapshot())))
}

func (r *Room) broadcast(data []byte) {
	if data == nil {
		return
	}
	for _, p := range r.players.GetList() {
		p.Send(data)
	}
}

func (r *Room) sendToHost(data []byte) {
	if data == nil || r.host == nil {
		return
	}
	r.host.Deliver(data)
}

func (r *Room) broadcastToAll(data []byte) {
	r.broadcast(data)
	r.sendToHost(data)
}

func (r *Room) send(conn players.Conn, msg protocol.Outbound) {
	if data := encode(msg); data != nil && conn != nil {
		conn.Deliver(data)
	}
}

func encode(msg protocol.Outbound) []byte {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("[Room] %v\n", err)
		return nil
	}
	return data
}

func viewOf(p *players.Player) PlayerView {
	return PlayerView{
		PID:       p.PID,
		Name:      p.Name,
		Score:     p.Score,
		CanBuzz:   p.CanBuzz,
		Connected: p.Connected(),
		Latency:   p.AverageLatency(),
	}
}
