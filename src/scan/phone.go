package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	phoneFrameWidth  = 640
	phoneFrameHeight = 480
	closeWait        = time.Second
)

// PhoneSource subscribes to the relay as a desktop peer and keeps the most
// recent phone frame. Older frames are overwritten, never queued.
type PhoneSource struct {
	url    string
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	latest       string
	sender       int64
	onDisconnect func()
	done         chan struct{}
}

func NewPhoneSource(wsUrl string) *PhoneSource {
	return &PhoneSource{url: wsUrl, dialer: websocket.DefaultDialer}
}

// OnDisconnect registers fn to be called when the phone goes away or the
// relay connection drops.
func (p *PhoneSource) OnDisconnect(fn func()) {
	p.mu.Lock()
	p.onDisconnect = fn
	p.mu.Unlock()
}

func (p *PhoneSource) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return errors.New("already connected to the relay")
	}

	conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("couldn't connect to phone relay %s: %w", p.url, err)
	}
	resp.Body.Close()

	p.conn = conn
	p.done = make(chan struct{})
	go p.readLoop(conn, p.done)

	log.Info("[Phone] Connected to phone relay")
	return nil
}

func (p *PhoneSource) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.latest = ""
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		conn.Close()
		close(done)
		log.Info("[Phone] Disconnected from phone relay")
		p.notifyDisconnect()
	}()

	for {
		var msg datastructures.RelayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("[Phone] Relay read failed: ", err.Error())
			}
			return
		}

		switch msg.Type {
		case datastructures.RelayMessagePhoneFrame:
			p.mu.Lock()
			p.latest = msg.Data
			p.sender = msg.Id
			p.mu.Unlock()
		case datastructures.RelayMessagePhoneDisconnected:
			// every peer's departure is announced, only the streaming phone matters
			p.mu.Lock()
			streaming := p.latest != "" && p.sender == msg.Id
			if streaming {
				p.latest = ""
			}
			p.mu.Unlock()
			if streaming {
				log.Debug("[Phone] Phone ", msg.Id, " disconnected")
				p.notifyDisconnect()
			}
		}
	}
}

func (p *PhoneSource) notifyDisconnect() {
	p.mu.Lock()
	fn := p.onDisconnect
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *PhoneSource) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *PhoneSource) HasFrame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest != ""
}

// CaptureFrame decodes the latest phone frame, scales it to 640x480 and
// re-encodes it as JPEG.
func (p *PhoneSource) CaptureFrame(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	latest := p.latest
	p.mu.Unlock()

	if latest == "" {
		return nil, ErrSourceNotReady
	}

	data, err := decodeDataUri(latest)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("phone sent an unreadable frame: %w", err)
	}
	img = imaging.Resize(img, phoneFrameWidth, phoneFrameHeight, imaging.Linear)
	return encodeJpeg(img)
}

// Close drops the relay connection and waits for the read loop to finish.
func (p *PhoneSource) Close() error {
	p.mu.Lock()
	conn := p.conn
	done := p.done
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	conn.Close()
	<-done
	return err
}

// decodeDataUri accepts "data:<mime>;base64,<payload>" as well as a bare
// base64 payload.
func decodeDataUri(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, errors.New("phone frame isn't a base64 data uri")
		}
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("phone frame isn't valid base64: %w", err)
	}
	return data, nil
}
