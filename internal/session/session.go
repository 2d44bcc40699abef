// Package session binds one websocket to a host or player of a room and translates
// wire messages into room calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coder/websocket"

	"buzzboard/internal/protocol"
	"buzzboard/internal/rooms"
	"buzzboard/internal/wshub"
)

const readLimit = 8 << 10

type Options struct {
	SendBuffer int
	Verbose    bool
	// Hub tracks the connection for shutdown. Optional.
	Hub *wshub.Hub
}

type Session struct {
	adm    Admission
	room   *rooms.Room
	conn   *websocket.Conn
	client *wshub.Client
	pid    int
	opts   Options
}

// Serve runs the session until the socket closes, the connection is replaced or ctx
// is cancelled. It always unbinds from the room before returning.
func Serve(ctx context.Context, conn *websocket.Conn, adm Admission, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &Session{
		adm:  adm,
		room: adm.Room,
		conn: conn,
		opts: opts,
	}
	s.client = wshub.NewClient(s.clientID(), conn, opts.SendBuffer)
	conn.SetReadLimit(readLimit)

	if opts.Hub != nil {
		opts.Hub.Register(s.client)
		defer opts.Hub.Unregister(s.client)
	}

	go s.client.WritePump(ctx)
	go func() {
		select {
		case <-s.client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.bind(); err != nil {
		s.client.Close(err.Error())
		return fmt.Errorf("binding %s: %w", adm.Role, err)
	}
	defer s.unbind()

	return s.readLoop(ctx)
}

func (s *Session) clientID() string {
	switch {
	case s.adm.Role == RoleHost:
		return s.room.Code + "/host"
	case s.adm.Reconnect():
		return fmt.Sprintf("%s/%d", s.room.Code, s.adm.PID)
	default:
		return s.room.Code + "/" + s.adm.Name
	}
}

func (s *Session) bind() error {
	if s.adm.Role == RoleHost {
		prev, err := s.room.ConnectHost(s.client)
		if err != nil {
			return err
		}
		if prev != nil {
			prev.Close("replaced by a new host connection")
		}
		return nil
	}

	if s.adm.Reconnect() {
		prev, err := s.room.ConnectPlayer(s.adm.PID, s.adm.Token, s.client)
		if err != nil {
			return err
		}
		if prev != nil {
			prev.Close("replaced by a new connection")
		}
		s.pid = s.adm.PID
		return nil
	}

	p, err := s.room.JoinPlayer(s.adm.Name, s.client)
	if err != nil {
		return err
	}
	s.pid = p.PID
	return nil
}

func (s *Session) unbind() {
	if s.adm.Role == RoleHost {
		s.room.DisconnectHost(s.client)
	} else {
		s.room.DisconnectPlayer(s.pid, s.client)
	}
	s.client.Close("session ended")
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			select {
			case <-s.client.Done():
				return nil
			default:
			}
			return err
		}
		if typ != websocket.MessageText {
			s.logf("[Session %s] Ignoring binary frame\n", s.client.ID)
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[Session %s] Dropping frame: %v\n", s.client.ID, err)
			continue
		}
		if s.adm.Role == RoleHost {
			s.handleHost(msg)
		} else {
			s.handlePlayer(msg)
		}
	}
}

func (s *Session) handleHost(msg protocol.Inbound) {
	var err error
	switch m := msg.(type) {
	case protocol.StartGame:
		err = s.room.StartGame()
	case protocol.EndGame:
		s.room.EndGame()
	case protocol.BuzzEnable:
		err = s.room.EnableBuzzing()
	case protocol.BuzzDisable:
		s.room.DisableBuzzing()
	case protocol.HostChecked:
		if m.Correct {
			err = s.room.HandleHostCorrect()
		} else {
			err = s.room.HandleHostIncorrect()
		}
	case protocol.HostChoice:
		err = s.room.HandleHostChoice(m.CategoryIndex, m.QuestionIndex)
	case protocol.HostReady:
		err = s.room.HandleHostReady()
	case protocol.Heartbeat:
		s.ackHeartbeat(m.HBID)
	default:
		s.logf("[Session %s] Ignoring %s from host\n", s.client.ID, msg.Kind())
		return
	}
	if err != nil {
		log.Printf("[Session %s] %s rejected: %v\n", s.client.ID, msg.Kind(), err)
		return
	}
	s.logf("[Session %s] %s\n", s.client.ID, msg.Kind())
}

func (s *Session) handlePlayer(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Buzz:
		if s.room.HandlePlayerBuzz(s.pid) {
			s.logf("[Session %s] Buzz accepted\n", s.client.ID)
		} else {
			s.logf("[Session %s] Buzz rejected\n", s.client.ID)
		}
	case protocol.Heartbeat:
		s.ackHeartbeat(m.HBID)
	case protocol.LatencyOfHeartbeat:
		if err := s.room.RecordLatency(s.pid, m.Latency); err != nil {
			log.Printf("[Session %s] Recording latency: %v\n", s.client.ID, err)
		}
	default:
		log.Printf("[Session %s] Ignoring host command %s from player\n", s.client.ID, msg.Kind())
	}
}

func (s *Session) ackHeartbeat(hbid int) {
	data, err := protocol.Encode(protocol.GotHeartbeat{HBID: hbid})
	if err != nil {
		log.Printf("[Session %s] %v\n", s.client.ID, err)
		return
	}
	s.client.Deliver(data)
	s.room.Touch()
}

func (s *Session) logf(format string, args ...any) {
	if s.opts.Verbose {
		log.Printf(format, args...)
	}
}
