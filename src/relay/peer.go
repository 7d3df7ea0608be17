package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

const (
	RolePhone   = "phone"
	RoleDesktop = "desktop"
)

// Peer is one connection to the relay. Outbound messages go through a
// bounded queue drained by writePump; a full queue drops the message for
// this peer only.
type Peer struct {
	id   int64
	role string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, role string, sendBuffer int) *Peer {
	return &Peer{
		role: role,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (p *Peer) Id() int64 {
	return p.id
}

func (p *Peer) Role() string {
	return p.role
}

// enqueue never blocks. It reports false when the message was dropped.
func (p *Peer) enqueue(msg []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *Peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// writePump owns all writes to the connection.
func (p *Peer) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("[Relay] Couldn't write to peer ", p.id, ": ", err.Error())
				p.close()
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
