package players

// Conn is the live connection handle a Player delivers frames through.
// Deliver must never block.
type Conn interface {
	Deliver(data []byte) bool
	Close(reason string)
}

const latencySamples = 5

// Player is one participant of a room. It is not safe for concurrent use; the room
// serializes access.
type Player struct {
	PID     int
	Name    string
	Token   string
	Score   int
	CanBuzz bool

	// answers judged by the host this game
	Correct   int
	Incorrect int

	conn      Conn
	latencies [latencySamples]int
	samples   int
}

func New(pid int, name, token string) *Player {
	return &Player{
		PID:     pid,
		Name:    name,
		Token:   token,
		CanBuzz: true,
	}
}

func (p *Player) Connected() bool {
	return p.conn != nil
}

func (p *Player) Conn() Conn {
	return p.conn
}

// Connect binds c and returns the handle it replaced, if any.
func (p *Player) Connect(c Conn) Conn {
	prev := p.conn
	p.conn = c
	return prev
}

// Disconnect clears the handle only if c is still the bound one, so a stale socket
// closing late cannot detach its replacement.
func (p *Player) Disconnect(c Conn) bool {
	if p.conn == nil || p.conn != c {
		return false
	}
	p.conn = nil
	return true
}

// Send is a no-op when the player is not connected.
func (p *Player) Send(data []byte) bool {
	if p.conn == nil {
		return false
	}
	return p.conn.Deliver(data)
}

func (p *Player) AddScore(points int) {
	p.Score += points
}

func (p *Player) RecordAnswer(correct bool) {
	if correct {
		p.Correct++
	} else {
		p.Incorrect++
	}
}

func (p *Player) ResetBuzz() {
	p.CanBuzz = true
}

func (p *Player) DisableBuzz() {
	p.CanBuzz = false
}

// RecordLatency keeps the last five heartbeat latencies in milliseconds.
func (p *Player) RecordLatency(ms int) {
	p.latencies[p.samples%latencySamples] = ms
	p.samples++
}

// AverageLatency is 0 until the first sample arrives.
func (p *Player) AverageLatency() int {
	n := min(p.samples, latencySamples)
	if n == 0 {
		return 0
	}
	total := 0
	for i := 0; i < n; i++ {
		total += p.latencies[i]
	}
	return total / n
}
