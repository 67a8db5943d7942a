package carrier

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multiformats/go-varint"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// 字节流上的通用帧会话，tcp 与 local 载体共用。
//
// 线上格式：
//
//	握手   拨号方先发一个瓶：("port", from, to, carrier)
//	帧     1 字节标志（bit0 管理帧，bit1 带信封）
//	       [信封: uvarint 长度 + 字节]，然后瓶装数据体
//	应答   接收方到拨号方，同样的帧格式
const (
	frameAdmin    byte = 1 << 0
	frameEnvelope byte = 1 << 1
)

const handshakeTag = "port"

// streamConn 会话共享的连接包装
type streamConn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu sync.Mutex
	rmu sync.Mutex

	closed  atomic.Bool
	timeout atomic.Int64 // 纳秒

	tosMu  sync.Mutex
	tos    int
	setTOS func(net.Conn, int) error

	paramMu sync.Mutex
	params  *types.Property
}

func newStreamConn(conn net.Conn, setTOS func(net.Conn, int) error) *streamConn {
	return &streamConn{
		conn:   conn,
		br:     bufio.NewReader(conn),
		setTOS: setTOS,
		params: types.NewProperty(),
	}
}

func (sc *streamConn) deadline() {
	t := time.Duration(sc.timeout.Load())
	if t > 0 {
		_ = sc.conn.SetDeadline(time.Now().Add(t))
	}
}

func (sc *streamConn) writeFrame(b *types.Bottle, envelope string, flags byte) error {
	if sc.closed.Load() {
		return ErrSessionClosed
	}
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

	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	sc.deadline()
	_, err := sc.conn.Write(buf.Bytes())
	return err
}

func (sc *streamConn) readFrame() (ifc.Frame, error) {
	if sc.closed.Load() {
		return ifc.Frame{}, ErrSessionClosed
	}

	sc.rmu.Lock()
	defer sc.rmu.Unlock()
	sc.deadline()

	flags, err := sc.br.ReadByte()
	if err != nil {
		return ifc.Frame{}, err
	}

	envelope := ""
	if flags&frameEnvelope != 0 {
		n, err := varint.ReadUvarint(sc.br)
		if err != nil {
			return ifc.Frame{}, err
		}
		if n > types.MaxBottleBytes {
			return ifc.Frame{}, types.ErrBottleTooLarge
		}
		raw := make([]byte, n)
		if _, err := readFull(sc.br, raw); err != nil {
			return ifc.Frame{}, err
		}
		envelope = string(raw)
	}

	body, err := types.ReadBottle(sc.br)
	if err != nil {
		return ifc.Frame{}, err
	}

	return ifc.Frame{
		Admin:    flags&frameAdmin != 0,
		Body:     body,
		Envelope: envelope,
	}, nil
}

func readFull(br *bufio.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := br.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (sc *streamConn) applyTOS(tos int) error {
	sc.tosMu.Lock()
	defer sc.tosMu.Unlock()
	if sc.setTOS != nil {
		if err := sc.setTOS(sc.conn, tos); err != nil {
			return err
		}
	}
	sc.tos = tos
	return nil
}

func (sc *streamConn) currentTOS() int {
	sc.tosMu.Lock()
	defer sc.tosMu.Unlock()
	return sc.tos
}

func (sc *streamConn) close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return sc.conn.Close()
}

// ============================================================================
//                              输出会话
// ============================================================================

// streamOutputSession 字节流出站会话
type streamOutputSession struct {
	sc *streamConn

	routeMu sync.Mutex
	route   types.Route
}

var _ ifc.OutputSession = (*streamOutputSession)(nil)

func newStreamOutputSession(conn net.Conn, setTOS func(net.Conn, int) error) *streamOutputSession {
	return &streamOutputSession{sc: newStreamConn(conn, setTOS)}
}

// Open 发送握手
func (s *streamOutputSession) Open(route types.Route) error {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()

	hs := types.NewBottle()
	hs.AddString(handshakeTag)
	hs.AddString(route.From)
	hs.AddString(route.To)
	hs.AddString(route.Carrier)
	return s.sc.writeFrame(hs, "", 0)
}

func (s *streamOutputSession) WriteFrame(b *types.Bottle, envelope string, admin bool) error {
	var flags byte
	if admin {
		flags |= frameAdmin
	}
	return s.sc.writeFrame(b, envelope, flags)
}

func (s *streamOutputSession) ReadReply() (*types.Bottle, error) {
	frame, err := s.sc.readFrame()
	if err != nil {
		return nil, err
	}
	return frame.Body, nil
}

func (s *streamOutputSession) SupportsReply() bool { return true }

func (s *streamOutputSession) Route() types.Route {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	return s.route
}

func (s *streamOutputSession) Rename(route types.Route) {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
}

func (s *streamOutputSession) Input() (ifc.InputSession, bool) { return nil, false }

func (s *streamOutputSession) SetTimeout(d time.Duration) { s.sc.timeout.Store(int64(d)) }
func (s *streamOutputSession) SetTOS(tos int) error       { return s.sc.applyTOS(tos) }
func (s *streamOutputSession) GetTOS() int                { return s.sc.currentTOS() }

func (s *streamOutputSession) SetCarrierParams(p *types.Property) {
	s.sc.paramMu.Lock()
	defer s.sc.paramMu.Unlock()
	for _, k := range p.Keys() {
		s.sc.params.Put(k, p.Find(k))
	}
}

func (s *streamOutputSession) GetCarrierParams(p *types.Property) {
	s.sc.paramMu.Lock()
	defer s.sc.paramMu.Unlock()
	for _, k := range s.sc.params.Keys() {
		p.Put(k, s.sc.params.Find(k))
	}
}

func (s *streamOutputSession) AttachPort(ifc.PortRef) {}

func (s *streamOutputSession) Close() error { return s.sc.close() }

// ============================================================================
//                              输入会话
// ============================================================================

// streamInputSession 字节流入站会话
type streamInputSession struct {
	sc *streamConn

	routeMu sync.Mutex
	route   types.Route
}

var _ ifc.InputSession = (*streamInputSession)(nil)

func newStreamInputSession(conn net.Conn, setTOS func(net.Conn, int) error) *streamInputSession {
	return &streamInputSession{sc: newStreamConn(conn, setTOS)}
}

// Open 读握手，取对端声明的路由
func (s *streamInputSession) Open() (types.Route, error) {
	frame, err := s.sc.readFrame()
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

func (s *streamInputSession) ReadFrame() (ifc.Frame, error) {
	return s.sc.readFrame()
}

func (s *streamInputSession) WriteReply(b *types.Bottle) error {
	return s.sc.writeFrame(b, "", 0)
}

func (s *streamInputSession) HasReply() bool { return true }

func (s *streamInputSession) SetTimeout(d time.Duration) { s.sc.timeout.Store(int64(d)) }
func (s *streamInputSession) SetTOS(tos int) error       { return s.sc.applyTOS(tos) }
func (s *streamInputSession) GetTOS() int                { return s.sc.currentTOS() }

func (s *streamInputSession) SetCarrierParams(p *types.Property) {
	s.sc.paramMu.Lock()
	defer s.sc.paramMu.Unlock()
	for _, k := range p.Keys() {
		s.sc.params.Put(k, p.Find(k))
	}
}

func (s *streamInputSession) GetCarrierParams(p *types.Property) {
	s.sc.paramMu.Lock()
	defer s.sc.paramMu.Unlock()
	for _, k := range s.sc.params.Keys() {
		p.Put(k, s.sc.params.Find(k))
	}
}

func (s *streamInputSession) AttachPort(ifc.PortRef) {}

func (s *streamInputSession) Close() error { return s.sc.close() }
