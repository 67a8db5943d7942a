package carrier

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// TCP 默认载体：TCP 字节流上的长度帧
type TCP struct{}

var _ ifc.Carrier = (*TCP)(nil)

// NewTCP 创建 TCP 载体模板
func NewTCP() *TCP { return &TCP{} }

// Name 载体名
func (t *TCP) Name() string { return "tcp" }

// IsPush 推式
func (t *TCP) IsPush() bool { return true }

// IsConnectionless 面向连接
func (t *TCP) IsConnectionless() bool { return false }

// Listen 绑定监听端点
func (t *TCP) Listen(c types.Contact) (ifc.Face, error) {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, max(c.Port, 0))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}

	tcpAddr := l.Addr().(*net.TCPAddr)
	local := types.Contact{
		Name:    c.Name,
		Host:    host,
		Port:    tcpAddr.Port,
		Carrier: "tcp",
	}
	return &tcpFace{listener: l, local: local}, nil
}

// Connect 拨号
func (t *TCP) Connect(c types.Contact) (ifc.OutputSession, error) {
	return dialTCP(c)
}

func dialTCP(c types.Contact) (ifc.OutputSession, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.HostPort(), timeout)
	if err != nil {
		return nil, fmt.Errorf("tcp connect %s: %w", c.HostPort(), err)
	}
	return newStreamOutputSession(conn, setConnTOS), nil
}

// setConnTOS 把 TOS 字节推到连接上
func setConnTOS(conn net.Conn, tos int) error {
	return ipv4.NewConn(conn).SetTOS(tos)
}

// tcpFace TCP 监听端点
type tcpFace struct {
	listener net.Listener
	local    types.Contact
}

var _ ifc.Face = (*tcpFace)(nil)

// Read 阻塞等待入站会话
func (f *tcpFace) Read() (ifc.InputSession, error) {
	conn, err := f.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newStreamInputSession(conn, setConnTOS), nil
}

// Write 从本端点拨出一个会话（自连唤醒用）
func (f *tcpFace) Write(c types.Contact) (ifc.OutputSession, error) {
	return dialTCP(c)
}

// LocalAddress 实际绑定地址
func (f *tcpFace) LocalAddress() types.Contact { return f.local }

// Close 关闭监听端点
func (f *tcpFace) Close() error { return f.listener.Close() }
