package carrier

import (
	"fmt"
	"net"
	"sync"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// Local 进程内载体
//
// 用内存管道连接同进程内的端口，测试与局部模式的标配。
// 端点按 "host:port" 键登记在载体实例内。
type Local struct {
	mu    sync.Mutex
	faces map[string]*localFace
	next  int
}

var _ ifc.Carrier = (*Local)(nil)

// NewLocal 创建 local 载体模板
func NewLocal() *Local {
	return &Local{
		faces: make(map[string]*localFace),
		next:  1,
	}
}

// Name 载体名
func (l *Local) Name() string { return "local" }

// IsPush 推式
func (l *Local) IsPush() bool { return true }

// IsConnectionless 面向连接
func (l *Local) IsConnectionless() bool { return false }

// Listen 登记一个进程内端点
func (l *Local) Listen(c types.Contact) (ifc.Face, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	host := c.Host
	if host == "" {
		host = "local"
	}
	port := c.Port
	if port <= 0 {
		port = l.next
		l.next++
	}
	key := fmt.Sprintf("%s:%d", host, port)
	if _, exists := l.faces[key]; exists {
		return nil, fmt.Errorf("local listen %s: address in use", key)
	}

	f := &localFace{
		carrier: l,
		key:     key,
		local: types.Contact{
			Name:    c.Name,
			Host:    host,
			Port:    port,
			Carrier: "local",
		},
		incoming: make(chan net.Conn, 16),
		done:     make(chan struct{}),
	}
	l.faces[key] = f
	return f, nil
}

// Connect 连到进程内端点
func (l *Local) Connect(c types.Contact) (ifc.OutputSession, error) {
	host := c.Host
	if host == "" {
		host = "local"
	}
	key := fmt.Sprintf("%s:%d", host, c.Port)

	l.mu.Lock()
	f, ok := l.faces[key]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("local connect %s: no such endpoint", key)
	}

	client, server := net.Pipe()
	select {
	case f.incoming <- server:
	case <-f.done:
		_ = client.Close()
		_ = server.Close()
		return nil, ErrSessionClosed
	}
	return newStreamOutputSession(client, nil), nil
}

func (l *Local) remove(key string) {
	l.mu.Lock()
	delete(l.faces, key)
	l.mu.Unlock()
}

// localFace 进程内监听端点
type localFace struct {
	carrier  *Local
	key      string
	local    types.Contact
	incoming chan net.Conn

	closeOnce sync.Once
	done      chan struct{}
}

var _ ifc.Face = (*localFace)(nil)

// Read 阻塞等待入站会话
func (f *localFace) Read() (ifc.InputSession, error) {
	select {
	case conn := <-f.incoming:
		return newStreamInputSession(conn, nil), nil
	case <-f.done:
		return nil, ErrSessionClosed
	}
}

// Write 从本端点拨出一个会话
func (f *localFace) Write(c types.Contact) (ifc.OutputSession, error) {
	return f.carrier.Connect(c)
}

// LocalAddress 登记的地址
func (f *localFace) LocalAddress() types.Contact { return f.local }

// Close 注销端点
func (f *localFace) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.carrier.remove(f.key)
	})
	return nil
}
