package carrier

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// Text 人读文本载体
//
// telnet 连上端口就能做管理操作。每行一条消息，
// 括号文本形式；所有入站帧都按管理帧处理。
// (many, ...) 应答逐元素一行渲染，空行结束。
type Text struct{}

var _ ifc.Carrier = (*Text)(nil)

// NewText 创建 text 载体模板
func NewText() *Text { return &Text{} }

// Name 载体名
func (t *Text) Name() string { return "text" }

// IsPush 推式
func (t *Text) IsPush() bool { return true }

// IsConnectionless 面向连接
func (t *Text) IsConnectionless() bool { return false }

// Listen 绑定监听端点
func (t *Text) Listen(c types.Contact) (ifc.Face, error) {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, max(c.Port, 0)))
	if err != nil {
		return nil, fmt.Errorf("text listen: %w", err)
	}
	tcpAddr := l.Addr().(*net.TCPAddr)
	return &textFace{
		listener: l,
		local:    types.Contact{Name: c.Name, Host: host, Port: tcpAddr.Port, Carrier: "text"},
	}, nil
}

// Connect 拨号
func (t *Text) Connect(c types.Contact) (ifc.OutputSession, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.HostPort(), timeout)
	if err != nil {
		return nil, fmt.Errorf("text connect %s: %w", c.HostPort(), err)
	}
	return &textOutputSession{conn: conn, br: bufio.NewReader(conn)}, nil
}

// textFace 文本载体监听端点
type textFace struct {
	listener net.Listener
	local    types.Contact
}

var _ ifc.Face = (*textFace)(nil)

func (f *textFace) Read() (ifc.InputSession, error) {
	conn, err := f.listener.Accept()
	if err != nil {
		return nil, err
	}
	return &textInputSession{conn: conn, br: bufio.NewReader(conn)}, nil
}

func (f *textFace) Write(c types.Contact) (ifc.OutputSession, error) {
	return NewText().Connect(c)
}

func (f *textFace) LocalAddress() types.Contact { return f.local }
func (f *textFace) Close() error                { return f.listener.Close() }

// ============================================================================
//                              输出会话
// ============================================================================

type textOutputSession struct {
	conn net.Conn
	br   *bufio.Reader
	wmu  sync.Mutex

	routeMu sync.Mutex
	route   types.Route

	timeout time.Duration
}

var _ ifc.OutputSession = (*textOutputSession)(nil)

func (s *textOutputSession) Open(route types.Route) error {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
	return s.writeLine("CONNECT " + route.From)
}

func (s *textOutputSession) writeLine(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

func (s *textOutputSession) WriteFrame(b *types.Bottle, _ string, _ bool) error {
	// 文本方言不分管理帧与数据帧，信封也不上线
	return s.writeLine(b.String())
}

// ReadReply 收集到空行为止的应答行
func (s *textOutputSession) ReadReply() (*types.Bottle, error) {
	var lines []string
	for {
		if s.timeout > 0 {
			_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
		}
		line, err := s.br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	return types.FromText(strings.Join(lines, " "))
}

func (s *textOutputSession) SupportsReply() bool { return true }

func (s *textOutputSession) Route() types.Route {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	return s.route
}

func (s *textOutputSession) Rename(route types.Route) {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
}

func (s *textOutputSession) Input() (ifc.InputSession, bool)    { return nil, false }
func (s *textOutputSession) SetTimeout(d time.Duration)         { s.timeout = d }
func (s *textOutputSession) SetTOS(tos int) error               { return setConnTOS(s.conn, tos) }
func (s *textOutputSession) GetTOS() int                        { return -1 }
func (s *textOutputSession) SetCarrierParams(*types.Property)   {}
func (s *textOutputSession) GetCarrierParams(*types.Property)   {}
func (s *textOutputSession) AttachPort(ifc.PortRef)             {}
func (s *textOutputSession) Close() error                       { return s.conn.Close() }

// ============================================================================
//                              输入会话
// ============================================================================

type textInputSession struct {
	conn net.Conn
	br   *bufio.Reader
	wmu  sync.Mutex

	routeMu sync.Mutex
	route   types.Route

	timeout time.Duration
}

var _ ifc.InputSession = (*textInputSession)(nil)

func (s *textInputSession) Open() (types.Route, error) {
	line, err := s.br.ReadString('\n')
	if err != nil {
		return types.Route{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	from, found := strings.CutPrefix(line, "CONNECT ")
	if !found {
		return types.Route{}, fmt.Errorf("%w: %q", ErrBadHandshake, line)
	}
	route := types.NewRoute(from, "", "text")
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
	return route, nil
}

func (s *textInputSession) ReadFrame() (ifc.Frame, error) {
	if s.timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
	line, err := s.br.ReadString('\n')
	if err != nil {
		return ifc.Frame{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	body, err := types.FromText(line)
	if err != nil {
		return ifc.Frame{}, err
	}
	// 文本连接是管理方言
	return ifc.Frame{Admin: true, Body: body}, nil
}

// WriteReply 渲染应答
//
// (many, ...) 逐元素一行；其余单行。空行收尾。
func (s *textInputSession) WriteReply(b *types.Bottle) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var sb strings.Builder
	if b.Get(0).AsVocab() == types.Vocab("many") {
		sb.WriteString("[many]\n")
		for i := 1; i < b.Size(); i++ {
			one := types.NewBottle()
			one.Add(b.Get(i))
			sb.WriteString(one.String())
			sb.WriteByte('\n')
		}
	} else {
		sb.WriteString(b.String())
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')

	if s.timeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
	_, err := s.conn.Write([]byte(sb.String()))
	return err
}

func (s *textInputSession) HasReply() bool { return true }

func (s *textInputSession) SetTimeout(d time.Duration)       { s.timeout = d }
func (s *textInputSession) SetTOS(tos int) error             { return setConnTOS(s.conn, tos) }
func (s *textInputSession) GetTOS() int                      { return -1 }
func (s *textInputSession) SetCarrierParams(*types.Property) {}
func (s *textInputSession) GetCarrierParams(*types.Property) {}
func (s *textInputSession) AttachPort(ifc.PortRef)           {}
func (s *textInputSession) Close() error                     { return s.conn.Close() }
