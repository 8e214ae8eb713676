package ws

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/visionline/camd/internal/api"
	"github.com/visionline/camd/internal/app"
)

func Init() {
	var cfg struct {
		Mod struct {
			Origin string `yaml:"origin"`
		} `yaml:"api"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("api")

	initWS(cfg.Mod.Origin)

	api.HandleFunc("api/ws", apiWS)
}

var log = zerolog.Nop()

// Message - struct for data exchange in Web API
type Message struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	Raw   []byte `json:"-"`
}

func (m *Message) String() (value string) {
	_ = json.Unmarshal(m.Raw, &value)
	return
}

func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Raw, v)
}

type WSHandler func(tr *Transport, msg *Message) error

func HandleFunc(msgType string, handler WSHandler) {
	wsHandlers[msgType] = handler
}

var wsHandlers = make(map[string]WSHandler)

var wsUp = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 512 * 1024,
}

func initWS(origin string) {
	switch origin {
	case "":
		// same origin + ignore port
		wsUp.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header["Origin"]
			if len(origin) == 0 {
				return true
			}
			o, err := url.Parse(origin[0])
			if err != nil {
				return false
			}
			if o.Host == r.Host {
				return true
			}
			log.Trace().Msgf("[api] ws origin=%s, host=%s", o.Host, r.Host)
			if i := strings.IndexByte(o.Host, ':'); i > 0 {
				return o.Host[:i] == r.Host
			}
			return false
		}
	case "*":
		wsUp.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

func apiWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUp.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Caller().Msgf("host=%s origin=%s", r.Host, r.Header.Get("Origin"))
		return
	}

	tr := NewTransport(r, func(msg any) error {
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))

		if data, ok := msg.([]byte); ok {
			return ws.WriteMessage(websocket.BinaryMessage, data)
		}
		return ws.WriteJSON(msg)
	})

	for {
		var raw struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err = ws.ReadJSON(&raw); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseGoingAway) {
				log.Trace().Err(err).Caller().Send()
			}
			break
		}

		msg := &Message{Type: raw.Type, Raw: raw.Value}

		log.Trace().Str("type", msg.Type).Msg("[api] ws msg")

		if handler := wsHandlers[msg.Type]; handler != nil {
			go func() {
				if err := handler(tr, msg); err != nil {
					tr.Write(&Message{Type: "error", Value: msg.Type + ": " + err.Error()})
				}
			}()
		} else {
			tr.Write(&Message{Type: "error", Value: "unknown message type: " + msg.Type})
		}
	}

	tr.Close()
	_ = ws.Close()
}

// Transport serializes writes of one websocket connection. Write never
// blocks, messages over the queue limit are dropped.
type Transport struct {
	Request *http.Request

	mu      sync.Mutex
	queue   chan any
	closed  bool
	onClose []func()
	drops   int
}

const queueSize = 16

func NewTransport(r *http.Request, write func(msg any) error) *Transport {
	tr := &Transport{Request: r, queue: make(chan any, queueSize)}
	go tr.writer(write)
	return tr
}

func (t *Transport) writer(write func(msg any) error) {
	for msg := range t.queue {
		if err := write(msg); err != nil {
			log.Trace().Err(err).Msg("[api] ws write")
		}
	}
}

func (t *Transport) Write(msg any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	select {
	case t.queue <- msg:
	default:
		t.drops++
	}
}

// Drops is the number of messages skipped because the client was too slow.
func (t *Transport) Drops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drops
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	funcs := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, f := range funcs {
		f()
	}
}

func (t *Transport) OnClose(f func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		f()
		return
	}
	t.onClose = append(t.onClose, f)
	t.mu.Unlock()
}
