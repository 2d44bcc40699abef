package players

import "slices"

// Store keeps players in join order and hands out pids that are never reused.
// Callers serialize access.
type Store struct {
	players map[int]*Player
	order   []int
	nextPID int
}

func NewStore() *Store {
	return &Store{
		players: make(map[int]*Player),
		nextPID: 1,
	}
}

func (s *Store) Add(name, token string) *Player {
	pid := s.nextPID
	s.nextPID++
	player := New(pid, name, token)
	s.players[pid] = player
	s.order = append(s.order, pid)
	return player
}

func (s *Store) Get(pid int) *Player {
	return s.players[pid]
}

func (s *Store) Remove(pid int) *Player {
	p, ok := s.players[pid]
	if !ok {
		return nil
	}
	delete(s.players, pid)
	s.order = slices.DeleteFunc(s.order, func(id int) bool { return id == pid })
	return p
}

// GetList returns players in join order.
func (s *Store) GetList() []*Player {
	list := make([]*Player, 0, len(s.order))
	for _, pid := range s.order {
		list = append(list, s.players[pid])
	}
	return list
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) ResetBuzz() {
	for _, p := range s.players {
		p.ResetBuzz()
	}
}
