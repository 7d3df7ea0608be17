package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var (
	ErrMalformedMessage = errors.New("malformed relay message")
	ErrRelayClosed      = errors.New("relay is shutting down")
)

type Options struct {
	MaxPeers        int
	PongWait        time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	// AllowedOrigin is matched against the Origin header, "*" allows all.
	AllowedOrigin string
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4 << 20
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 8
	}
	if o.AllowedOrigin == "" {
		o.AllowedOrigin = "*"
	}
	return o
}

// Relay brokers frames between phones and desktops. It never inspects frame
// payloads; it only stamps them with the sender id.
type Relay struct {
	opts     Options
	registry *Registry
	tokens   TokenStore
	upgrader websocket.Upgrader
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

func New(tokens TokenStore, opts Options) *Relay {
	opts = opts.withDefaults()
	r := &Relay{
		opts:     opts,
		registry: NewRegistry(opts.MaxPeers),
		tokens:   tokens,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			return opts.AllowedOrigin == "*" || origin == "" || origin == opts.AllowedOrigin
		},
	}
	return r
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

// ServeWS performs the handshake. A connection presenting a pairing token
// joins as a phone, connections without a token join as desktop viewers.
// The token is redeemed only once the phone holds a registry slot, a refused
// handshake leaves it usable.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	if r.isClosed() {
		http.Error(w, ErrRelayClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if r.registry.Full() {
		log.Warn("[Relay] Refusing connection, registry is full")
		http.Error(w, ErrRegistryFull.Error(), http.StatusServiceUnavailable)
		return
	}

	role := RoleDesktop
	token := req.URL.Query().Get("token")
	if token != "" {
		ok, err := r.tokens.Valid(req.Context(), token)
		if err != nil {
			log.Error("[Relay] Couldn't check pairing token: ", err.Error())
			http.Error(w, "couldn't check pairing token", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "invalid or expired pairing token", http.StatusForbidden)
			return
		}
		role = RolePhone
	}

	p := newPeer(nil, role, r.opts.SendBuffer)
	if err := r.admit(p); err != nil {
		log.Warn("[Relay] Couldn't register peer: ", err.Error())
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if token != "" {
		ok, err := r.tokens.Consume(req.Context(), token)
		if err != nil {
			r.release(p)
			log.Error("[Relay] Couldn't redeem pairing token: ", err.Error())
			http.Error(w, "couldn't check pairing token", http.StatusInternalServerError)
			return
		}
		if !ok {
			// redeemed by another phone since the check above
			r.release(p)
			http.Error(w, "invalid or expired pairing token", http.StatusForbidden)
			return
		}
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// the upgrader already answered the request
		r.release(p)
		log.Debug("[Relay] Upgrade failed: ", err.Error())
		return
	}
	p.conn = conn
	log.WithFields(log.Fields{"id": p.id, "role": p.role, "peers": r.registry.Len()}).Info("[Relay] Peer connected")

	go r.serve(p)
}

// admit reserves a registry slot for p unless the relay is shutting down.
// Registration and the goroutine accounting happen under the same lock
// Close takes, so a drained relay never picks up new peers.
func (r *Relay) admit(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRelayClosed
	}
	if _, err := r.registry.Register(p); err != nil {
		return err
	}
	r.wg.Add(1)
	return nil
}

// release undoes admit for a peer that never got connected. Nobody has
// heard of p yet, so no event is sent.
func (r *Relay) release(p *Peer) {
	r.registry.Unregister(p.id)
	p.close()
	r.wg.Done()
}

func (r *Relay) serve(p *Peer) {
	defer r.wg.Done()

	written := make(chan struct{})
	go func() {
		defer close(written)
		p.writePump(r.opts.PongWait * 9 / 10)
	}()
	r.readPump(p)
	<-written
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func (r *Relay) readPump(p *Peer) {
	defer r.disconnect(p)

	p.conn.SetReadLimit(r.opts.MaxMessageBytes)
	p.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(r.opts.PongWait))
		return nil
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("[Relay] Unexpected disconnect of peer ", p.id, ": ", err.Error())
			}
			return
		}
		if err := r.handleMessage(p, raw); err != nil {
			log.WithFields(log.Fields{"id": p.id}).Warn("[Relay] Tearing down peer: ", err.Error())
			return
		}
	}
}

func (r *Relay) handleMessage(p *Peer, raw []byte) error {
	var msg datastructures.RelayMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	case datastructures.RelayMessageFrame:
		r.broadcastFrame(p.id, msg.Data)
	default:
		log.Debug("[Relay] Ignoring message of type ", msg.Type, " from peer ", p.id)
	}
	return nil
}

// broadcastFrame forwards a frame to every other registered peer. Frames of
// senders that are no longer registered are dropped silently.
func (r *Relay) broadcastFrame(senderId int64, data string) int {
	if _, ok := r.registry.Get(senderId); !ok {
		return 0
	}

	msg, err := json.Marshal(datastructures.RelayMessage{
		Type: datastructures.RelayMessagePhoneFrame,
		Id:   senderId,
		Data: data,
	})
	if err != nil {
		log.Error("[Relay] Couldn't marshal frame: ", err.Error())
		return 0
	}
	return r.broadcast(senderId, msg)
}

func (r *Relay) broadcast(excludeId int64, msg []byte) int {
	delivered := 0
	for _, peer := range r.registry.Others(excludeId) {
		if peer.enqueue(msg) {
			delivered++
		} else {
			log.Debug("[Relay] Dropped message for saturated peer ", peer.id)
		}
	}
	return delivered
}

// disconnect moves p to the closed state. Only the call that actually
// removes p from the registry notifies the remaining peers.
func (r *Relay) disconnect(p *Peer) {
	p.close()
	if !r.registry.Unregister(p.id) {
		return
	}
	log.WithFields(log.Fields{"id": p.id, "role": p.role, "peers": r.registry.Len()}).Info("[Relay] Peer disconnected")

	msg, err := json.Marshal(datastructures.RelayMessage{
		Type: datastructures.RelayMessagePhoneDisconnected,
		Id:   p.id,
	})
	if err != nil {
		log.Error("[Relay] Couldn't marshal disconnect event: ", err.Error())
		return
	}
	r.broadcast(p.id, msg)
}

// Close tears down every connection without broadcasting disconnect events
// and waits for all peer goroutines to finish.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	peers := r.registry.Drain()
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	r.wg.Wait()
	log.Info("[Relay] Closed ", len(peers), " connections")
}
