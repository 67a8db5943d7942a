package carrier

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/multiformats/go-varint"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// WS WebSocket 载体
//
// 一条二进制消息承载一帧，帧内格式与 tcp 载体相同。
// 浏览器或网关侧的端口用它接入。
type WS struct{}

var _ ifc.Carrier = (*WS)(nil)

// NewWS 创建 ws 载体模板
func NewWS() *WS { return &WS{} }

// Name 载体名
func (w *WS) Name() string { return "ws" }

// IsPush 推式
func (w *WS) IsPush() bool { return true }

// IsConnectionless 面向连接
func (w *WS) IsConnectionless() bool { return false }

// Listen 绑定监听端点
func (w *WS) Listen(c types.Contact) (ifc.Face, error) {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, max(c.Port, 0)))
	if err != nil {
		return nil, fmt.Errorf("ws listen: %w", err)
	}
	tcpAddr := l.Addr().(*net.TCPAddr)

	f := &wsFace{
		listener: l,
		local:    types.Contact{Name: c.Name, Host: host, Port: tcpAddr.Port, Carrier: "ws"},
		incoming: make(chan *websocket.Conn, 16),
		done:     make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		// 端口自己的管理协议做准入，这里不再检查来源
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		select {
		case f.incoming <- conn:
		case <-f.done:
			_ = conn.Close()
		}
	})
	f.server = &http.Server{Handler: mux}
	go func() { _ = f.server.Serve(l) }()

	return f, nil
}

// Connect 拨号
func (w *WS) Connect(c types.Contact) (ifc.OutputSession, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(fmt.Sprintf("ws://%s/", c.HostPort()), nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect %s: %w", c.HostPort(), err)
	}
	return &wsOutputSession{ws: newWSConn(conn)}, nil
}

// wsFace WebSocket 监听端点
type wsFace struct {
	server   *http.Server
	listener net.Listener
	local    types.Contact
	incoming chan *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

var _ ifc.Face = (*wsFace)(nil)

func (f *wsFace) Read() (ifc.InputSession, error) {
	select {
	case conn := <-f.incoming:
		return &wsInputSession{ws: newWSConn(conn)}, nil
	case <-f.done:
		return nil, ErrSessionClosed
	}
}

func (f *wsFace) Write(c types.Contact) (ifc.OutputSession, error) {
	return NewWS().Connect(c)
}

func (f *wsFace) LocalAddress() types.Contact { return f.local }

func (f *wsFace) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		_ = f.server.Close()
	})
	return nil
}

// ============================================================================
//                              帧编解码
// ============================================================================

// wsConn 消息式连接包装
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	rmu  sync.Mutex

	timeout time.Duration

	tosMu sync.Mutex
	tos   int

	paramMu sync.Mutex
	params  *types.Property
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, params: types.NewProperty()}
}

func (wc *wsConn) writeFrame(b *types.Bottle, envelope string, flags byte) error {
	if envelope != "" {
		flags |= frameEnvelope
	}
	var buf bytes.Buffer
	buf.WriteByte(flags)
	if envelope != "" {
		buf.Write(varint.ToUvarint(uint64(len(envelope))))
		buf.WriteString(envelope)
	}
	if err := b.WriteTo(&buf); err != nil {
		return err
	}

	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	if wc.timeout > 0 {
		_ = wc.conn.SetWriteDeadline(time.Now().Add(wc.timeout))
	}
	return wc.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (wc *wsConn) readFrame() (ifc.Frame, error) {
	wc.rmu.Lock()
	defer wc.rmu.Unlock()
	if wc.timeout > 0 {
		_ = wc.conn.SetReadDeadline(time.Now().Add(wc.timeout))
	}

	for {
		kind, data, err := wc.conn.ReadMessage()
		if err != nil {
			return ifc.Frame{}, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return decodeFrame(data)
	}
}

func decodeFrame(data []byte) (ifc.Frame, error) {
	if len(data) < 1 {
		return ifc.Frame{}, types.ErrBadBottle
	}
	flags := data[0]
	rest := data[1:]

	envelope := ""
	if flags&frameEnvelope != 0 {
		n, sz, err := varint.FromUvarint(rest)
		if err != nil {
			return ifc.Frame{}, err
		}
		if uint64(len(rest)-sz) < n {
			return ifc.Frame{}, types.ErrBadBottle
		}
		envelope = string(rest[sz : sz+int(n)])
		rest = rest[sz+int(n):]
	}

	body, err := types.ParseBottle(rest)
	if err != nil {
		return ifc.Frame{}, err
	}
	return ifc.Frame{Admin: flags&frameAdmin != 0, Body: body, Envelope: envelope}, nil
}

func (wc *wsConn) applyTOS(tos int) error {
	if err := setConnTOS(wc.conn.UnderlyingConn(), tos); err != nil {
		return err
	}
	wc.tosMu.Lock()
	wc.tos = tos
	wc.tosMu.Unlock()
	return nil
}

func (wc *wsConn) currentTOS() int {
	wc.tosMu.Lock()
	defer wc.tosMu.Unlock()
	return wc.tos
}

// ============================================================================
//                              会话
// ============================================================================

type wsOutputSession struct {
	ws *wsConn

	routeMu sync.Mutex
	route   types.Route
}

var _ ifc.OutputSession = (*wsOutputSession)(nil)

func (s *wsOutputSession) Open(route types.Route) error {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
	hs := types.NewBottle()
	hs.AddString(handshakeTag)
	hs.AddString(route.From)
	hs.AddString(route.To)
	hs.AddString(route.Carrier)
	return s.ws.writeFrame(hs, "", 0)
}

func (s *wsOutputSession) WriteFrame(b *types.Bottle, envelope string, admin bool) error {
	var flags byte
	if admin {
		flags |= frameAdmin
	}
	return s.ws.writeFrame(b, envelope, flags)
}

func (s *wsOutputSession) ReadReply() (*types.Bottle, error) {
	frame, err := s.ws.readFrame()
	if err != nil {
		return nil, err
	}
	return frame.Body, nil
}

func (s *wsOutputSession) SupportsReply() bool { return true }

func (s *wsOutputSession) Route() types.Route {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	return s.route
}

func (s *wsOutputSession) Rename(route types.Route) {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
}

func (s *wsOutputSession) Input() (ifc.InputSession, bool) { return nil, false }
func (s *wsOutputSession) SetTimeout(d time.Duration)      { s.ws.timeout = d }
func (s *wsOutputSession) SetTOS(tos int) error            { return s.ws.applyTOS(tos) }
func (s *wsOutputSession) GetTOS() int                     { return s.ws.currentTOS() }

func (s *wsOutputSession) SetCarrierParams(p *types.Property) {
	s.ws.paramMu.Lock()
	defer s.ws.paramMu.Unlock()
	for _, k := range p.Keys() {
		s.ws.params.Put(k, p.Find(k))
	}
}

func (s *wsOutputSession) GetCarrierParams(p *types.Property) {
	s.ws.paramMu.Lock()
	defer s.ws.paramMu.Unlock()
	for _, k := range s.ws.params.Keys() {
		p.Put(k, s.ws.params.Find(k))
	}
}

func (s *wsOutputSession) AttachPort(ifc.PortRef) {}
func (s *wsOutputSession) Close() error           { return s.ws.conn.Close() }

type wsInputSession struct {
	ws *wsConn

	routeMu sync.Mutex
	route   types.Route
}

var _ ifc.InputSession = (*wsInputSession)(nil)

func (s *wsInputSession) Open() (types.Route, error) {
	frame, err := s.ws.readFrame()
	if err != nil {
		return types.Route{}, err
	}
	hs := frame.Body
	if hs.Get(0).AsString() != handshakeTag || hs.Size() < 4 {
		return types.Route{}, fmt.Errorf("%w: %s", ErrBadHandshake, hs.String())
	}
	route := types.NewRoute(hs.Get(1).AsString(), hs.Get(2).AsString(), hs.Get(3).AsString())
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
	return route, nil
}

func (s *wsInputSession) ReadFrame() (ifc.Frame, error) {
	return s.ws.readFrame()
}

func (s *wsInputSession) WriteReply(b *types.Bottle) error {
	return s.ws.writeFrame(b, "", 0)
}

func (s *wsInputSession) HasReply() bool            { return true }
func (s *wsInputSession) SetTimeout(d time.Duration) { s.ws.timeout = d }
func (s *wsInputSession) SetTOS(tos int) error       { return s.ws.applyTOS(tos) }
func (s *wsInputSession) GetTOS() int                { return s.ws.currentTOS() }

func (s *wsInputSession) SetCarrierParams(p *types.Property) {
	s.ws.paramMu.Lock()
	defer s.ws.paramMu.Unlock()
	for _, k := range p.Keys() {
		s.ws.params.Put(k, p.Find(k))
	}
}

func (s *wsInputSession) GetCarrierParams(p *types.Property) {
	s.ws.paramMu.Lock()
	defer s.ws.paramMu.Unlock()
	for _, k := range s.ws.params.Keys() {
		p.Put(k, s.ws.params.Find(k))
	}
}

func (s *wsInputSession) AttachPort(ifc.PortRef) {}
func (s *wsInputSession) Close() error           { return s.ws.conn.Close() }
