package carrier

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// ROSTCP TCPROS 拉式载体
//
// 原生连接是推式、发送方发起；TCPROS 是拉式、接收方发起。
// 这里的"出站"拨号实际建立的是入站数据流：引擎翻转路由
// 后把它注册为输入单元。
//
// 线上格式：握手为 4 字节小端长度的字段表（"key=value"，
// 字段自带 4 字节小端长度前缀）；数据帧为 4 字节小端长度
// 加裸负载，交付时包成单 Blob 瓶。
type ROSTCP struct{}

var _ ifc.Carrier = (*ROSTCP)(nil)

// NewROSTCP 创建 rostcp 载体模板
func NewROSTCP() *ROSTCP { return &ROSTCP{} }

// Name 载体名
func (r *ROSTCP) Name() string { return "rostcp" }

// IsPush 拉式
func (r *ROSTCP) IsPush() bool { return false }

// IsConnectionless 面向连接
func (r *ROSTCP) IsConnectionless() bool { return false }

// Listen 不支持：数据流的服务端是 ROS publisher
func (r *ROSTCP) Listen(types.Contact) (ifc.Face, error) {
	return nil, fmt.Errorf("rostcp: %w", ErrNotSupported)
}

// Connect 连到 publisher 的数据端口
func (r *ROSTCP) Connect(c types.Contact) (ifc.OutputSession, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.HostPort(), timeout)
	if err != nil {
		return nil, fmt.Errorf("rostcp connect %s: %w", c.HostPort(), err)
	}
	return &rostcpSession{conn: conn}, nil
}

// rostcpSession 拉式会话：出站外壳 + 入站数据流
type rostcpSession struct {
	conn net.Conn

	routeMu sync.Mutex
	route   types.Route

	timeout time.Duration
}

var _ ifc.OutputSession = (*rostcpSession)(nil)

// Open 执行 TCPROS 握手
//
// 话题名从载体修饰符 "+topic.<name>" 里取。
func (s *rostcpSession) Open(route types.Route) error {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()

	topic := topicOf(route.Carrier)
	fields := []string{
		"callerid=" + route.From,
		"topic=" + topic,
		"md5sum=*",
		"type=*",
	}
	if err := writeHeader(s.conn, fields); err != nil {
		return err
	}
	// publisher 的响应头读掉即可
	if _, err := readHeader(s.conn); err != nil {
		return err
	}
	return nil
}

// topicOf 取载体修饰符里的话题名
func topicOf(carrier string) string {
	for _, part := range strings.Split(carrier, "+") {
		if rest, found := strings.CutPrefix(part, "topic."); found {
			return rest
		}
	}
	return "/"
}

func writeHeader(conn net.Conn, fields []string) error {
	total := 0
	for _, f := range fields {
		total += 4 + len(f)
	}
	buf := make([]byte, 0, 4+total)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(total))
	for _, f := range fields {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	_, err := conn.Write(buf)
	return err
}

func readHeader(conn net.Conn) ([]string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])
	if uint64(total) > types.MaxBottleBytes {
		return nil, types.ErrBottleTooLarge
	}
	raw := make([]byte, total)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return nil, err
	}
	var fields []string
	for len(raw) >= 4 {
		n := binary.LittleEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint32(len(raw)) < n {
			break
		}
		fields = append(fields, string(raw[:n]))
		raw = raw[n:]
	}
	return fields, nil
}

// WriteFrame 拉式会话不承载出站数据
func (s *rostcpSession) WriteFrame(*types.Bottle, string, bool) error {
	return fmt.Errorf("rostcp: %w", ErrNotSupported)
}

// ReadReply 拉式会话没有应答通道
func (s *rostcpSession) ReadReply() (*types.Bottle, error) {
	return nil, fmt.Errorf("rostcp: %w", ErrNotSupported)
}

func (s *rostcpSession) SupportsReply() bool { return false }

func (s *rostcpSession) Route() types.Route {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	return s.route
}

func (s *rostcpSession) Rename(route types.Route) {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
}

// Input 翻转为入站数据流
func (s *rostcpSession) Input() (ifc.InputSession, bool) {
	return &rostcpInputSession{owner: s}, true
}

func (s *rostcpSession) SetTimeout(d time.Duration)       { s.timeout = d }
func (s *rostcpSession) SetTOS(tos int) error             { return setConnTOS(s.conn, tos) }
func (s *rostcpSession) GetTOS() int                      { return -1 }
func (s *rostcpSession) SetCarrierParams(*types.Property) {}
func (s *rostcpSession) GetCarrierParams(*types.Property) {}
func (s *rostcpSession) AttachPort(ifc.PortRef)           {}
func (s *rostcpSession) Close() error                     { return s.conn.Close() }

// rostcpInputSession 翻转后的入站数据流
type rostcpInputSession struct {
	owner *rostcpSession
}

var _ ifc.InputSession = (*rostcpInputSession)(nil)

// Open 握手已由外壳完成，直接返回翻转后的路由
func (s *rostcpInputSession) Open() (types.Route, error) {
	return s.owner.Route(), nil
}

// ReadFrame 读一条 TCPROS 消息，负载包成单 Blob 瓶
func (s *rostcpInputSession) ReadFrame() (ifc.Frame, error) {
	if s.owner.timeout > 0 {
		_ = s.owner.conn.SetReadDeadline(time.Now().Add(s.owner.timeout))
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.owner.conn, lenBuf[:]); err != nil {
		return ifc.Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if uint64(n) > types.MaxBottleBytes {
		return ifc.Frame{}, types.ErrBottleTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(s.owner.conn, payload); err != nil {
		return ifc.Frame{}, err
	}
	body := types.NewBottle()
	body.AddBlob(payload)
	return ifc.Frame{Body: body}, nil
}

func (s *rostcpInputSession) WriteReply(*types.Bottle) error {
	return fmt.Errorf("rostcp: %w", ErrNoReplyChannel)
}

func (s *rostcpInputSession) HasReply() bool               { return false }
func (s *rostcpInputSession) SetTimeout(d time.Duration)   { s.owner.timeout = d }
func (s *rostcpInputSession) SetTOS(tos int) error         { return s.owner.SetTOS(tos) }
func (s *rostcpInputSession) GetTOS() int                  { return s.owner.GetTOS() }
func (s *rostcpInputSession) SetCarrierParams(*types.Property) {}
func (s *rostcpInputSession) GetCarrierParams(*types.Property) {}
func (s *rostcpInputSession) AttachPort(ifc.PortRef)       {}
func (s *rostcpInputSession) Close() error                 { return s.owner.Close() }
