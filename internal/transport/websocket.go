package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsWriteWait = 10 * time.Second

// wsEnvelope frames one datagram on a websocket. To is empty for broadcasts.
type wsEnvelope struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
	Data []byte `json:"data"`
}

// Websocket is a client of a WebsocketRelay.
type Websocket struct {
	conn   *websocket.Conn
	id     string
	in     *inbox
	wmu    sync.Mutex
	wg     sync.WaitGroup
	logger zerolog.Logger
}

var _ Transport = (*Websocket)(nil)

// DialWebsocket connects to the relay at rawURL.
func DialWebsocket(rawURL, id string, logger zerolog.Logger) (*Websocket, error) {
	if id == "" {
		id = newEndpointID()
	}
	if err := validEndpointID(id); err != nil {
		return nil, &Error{Op: "open", Addr: rawURL, Err: err}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Op: "open", Addr: rawURL, Err: err}
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: wsWriteWait}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, &Error{Op: "open", Addr: rawURL, Err: err}
	}

	t := &Websocket{conn: conn, id: id, in: newInbox(), logger: logger}
	t.wg.Add(1)
	go t.readLoop()

	logger.Info().Str("id", id).Str("url", rawURL).Msg("websocket transport connected")
	return t, nil
}

func (t *Websocket) readLoop() {
	defer t.wg.Done()
	for {
		var env wsEnvelope
		if err := t.conn.ReadJSON(&env); err != nil {
			if !t.in.closed() {
				t.logger.Warn().Err(err).Msg("websocket read failed")
				t.in.close()
			}
			return
		}
		if env.From == t.id || (env.To != "" && env.To != t.id) {
			continue
		}
		t.in.push(Datagram{Data: env.Data, From: env.From, Broadcast: env.To == ""})
	}
}

// Send writes one envelope to the relay.
func (t *Websocket) Send(dest string, data []byte) error {
	if t.in.closed() {
		return &Error{Op: "send", Addr: dest, Err: ErrClosed}
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := t.conn.WriteJSON(wsEnvelope{From: t.id, To: dest, Data: data}); err != nil {
		return &Error{Op: "send", Addr: dest, Err: err}
	}
	return nil
}

// Receive returns the next datagram relayed to this client.
func (t *Websocket) Receive(timeout time.Duration) (Datagram, error) {
	return t.in.receive(timeout)
}

// LocalAddresses returns the client id.
func (t *Websocket) LocalAddresses() []string {
	return []string{t.id}
}

// Close sends a close frame and waits for the read loop to exit.
func (t *Websocket) Close() error {
	if !t.in.close() {
		return &Error{Op: "close", Err: ErrClosed}
	}
	t.wmu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.wmu.Unlock()
	err := t.conn.Close()
	t.wg.Wait()
	if err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

// WebsocketRelay is an http.Handler forming one broadcast domain out of every
// connected websocket client. It does not interpret payloads.
type WebsocketRelay struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*relayClient
	logger   zerolog.Logger
}

type relayClient struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *relayClient) write(raw json.RawMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// NewWebsocketRelay returns an empty relay.
func NewWebsocketRelay(logger zerolog.Logger) *WebsocketRelay {
	return &WebsocketRelay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*relayClient),
		logger:  logger,
	}
}

// Clients returns the number of connected clients.
func (r *WebsocketRelay) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ServeHTTP upgrades the request and relays its frames until it disconnects.
func (r *WebsocketRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("id")
	if err := validEndpointID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &relayClient{conn: conn}
	r.mu.Lock()
	if old, ok := r.clients[id]; ok {
		old.conn.Close()
	}
	r.clients[id] = c
	r.mu.Unlock()
	r.logger.Debug().Str("id", id).Msg("relay client joined")

	defer func() {
		r.mu.Lock()
		if r.clients[id] == c {
			delete(r.clients, id)
		}
		r.mu.Unlock()
		conn.Close()
		r.logger.Debug().Str("id", id).Msg("relay client left")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.From != id {
			continue
		}
		r.fanOut(id, env.To, raw)
	}
}

func (r *WebsocketRelay) fanOut(from, to string, raw json.RawMessage) {
	r.mu.RLock()
	targets := make([]*relayClient, 0, len(r.clients))
	for id, c := range r.clients {
		if id == from || (to != "" && id != to) {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(raw); err != nil {
			r.logger.Debug().Err(err).Msg("relay write failed")
		}
	}
}
