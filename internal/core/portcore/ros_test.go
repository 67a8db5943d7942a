package portcore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// fakePullCarrier 测试用拉式载体：拨号即得反向输入会话
type fakePullCarrier struct {
	mu       sync.Mutex
	sessions []*fakePullSession
}

var _ ifc.Carrier = (*fakePullCarrier)(nil)

func (c *fakePullCarrier) Name() string           { return "rostcp" }
func (c *fakePullCarrier) IsPush() bool           { return false }
func (c *fakePullCarrier) IsConnectionless() bool { return false }

func (c *fakePullCarrier) Listen(types.Contact) (ifc.Face, error) {
	return nil, errors.New("pull carrier cannot listen")
}

func (c *fakePullCarrier) Connect(types.Contact) (ifc.OutputSession, error) {
	s := &fakePullSession{closed: make(chan struct{})}
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	return s, nil
}

type fakePullSession struct {
	routeMu sync.Mutex
	route   types.Route

	closeOnce sync.Once
	closed    chan struct{}
}

var _ ifc.OutputSession = (*fakePullSession)(nil)

func (s *fakePullSession) Open(route types.Route) error {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
	return nil
}

func (s *fakePullSession) WriteFrame(*types.Bottle, string, bool) error {
	return errors.New("pull session is read-only")
}

func (s *fakePullSession) ReadReply() (*types.Bottle, error) { return nil, errors.New("no reply") }
func (s *fakePullSession) SupportsReply() bool               { return false }

func (s *fakePullSession) Route() types.Route {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	return s.route
}

func (s *fakePullSession) Rename(route types.Route) {
	s.routeMu.Lock()
	s.route = route
	s.routeMu.Unlock()
}

func (s *fakePullSession) Input() (ifc.InputSession, bool) {
	return &fakePullInput{owner: s}, true
}

func (s *fakePullSession) SetTimeout(time.Duration)       {}
func (s *fakePullSession) SetTOS(int) error               { return nil }
func (s *fakePullSession) GetTOS() int                    { return -1 }
func (s *fakePullSession) SetCarrierParams(*types.Property) {}
func (s *fakePullSession) GetCarrierParams(*types.Property) {}
func (s *fakePullSession) AttachPort(ifc.PortRef)         {}

func (s *fakePullSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakePullInput struct {
	owner *fakePullSession
}

var _ ifc.InputSession = (*fakePullInput)(nil)

func (s *fakePullInput) Open() (types.Route, error) { return s.owner.Route(), nil }

func (s *fakePullInput) ReadFrame() (ifc.Frame, error) {
	<-s.owner.closed
	return ifc.Frame{}, errors.New("session closed")
}

func (s *fakePullInput) WriteReply(*types.Bottle) error { return errors.New("no reply channel") }
func (s *fakePullInput) HasReply() bool                 { return false }
func (s *fakePullInput) SetTimeout(time.Duration)       {}
func (s *fakePullInput) SetTOS(int) error               { return nil }
func (s *fakePullInput) GetTOS() int                    { return -1 }
func (s *fakePullInput) SetCarrierParams(*types.Property) {}
func (s *fakePullInput) GetCarrierParams(*types.Property) {}
func (s *fakePullInput) AttachPort(ifc.PortRef)         {}
func (s *fakePullInput) Close() error                   { return s.owner.Close() }

// fixedDialer 固定地址的话题拨号器
type fixedDialer struct{}

func (fixedDialer) RequestTopic(_, _, _ string) (types.Contact, error) {
	return types.Contact{Host: "pub-host", Port: 45000}, nil
}

func puppedCount(pc *PortCore) int {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	n := 0
	for _, u := range pc.units {
		if u == nil || u.IsFinished() {
			continue
		}
		if _, ok := u.PuppedTag(); ok {
			n++
		}
	}
	return n
}

func TestPublisherUpdateReconciliation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.reg.Register(&fakePullCarrier{}))

	cfg := DefaultConfig()
	cfg.ROSCompat = true
	sub := env.newPort(t, "/subscriber", nil,
		WithConfig(cfg),
		WithROSDialer(fixedDialer{}))

	// 两个 publisher 上线
	cmd := types.NewBottle()
	cmd.AddString("publisherUpdate")
	cmd.AddString("/caller")
	cmd.AddString("/chatter")
	pubs := cmd.AddList()
	pubs.AddString("http://host-a:1111")
	pubs.AddString("http://host-b:2222")

	reply := env.admin(t, "/subscriber", cmd)
	assert.Equal(t, int32(1), reply.Get(0).AsInt32())
	assert.Equal(t, "ok", reply.Get(1).AsString())

	require.Eventually(t, func() bool { return puppedCount(sub) == 2 }, time.Second, 5*time.Millisecond)

	// 名单缩到一个：消失的 publisher 被标记拆除
	cmd = types.NewBottle()
	cmd.AddString("publisherUpdate")
	cmd.AddString("/caller")
	cmd.AddString("/chatter")
	pubs = cmd.AddList()
	pubs.AddString("http://host-a:1111")

	_, _ = env.adminErr("/subscriber", cmd)

	require.Eventually(t, func() bool { return puppedCount(sub) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestParsePublisherURI(t *testing.T) {
	tests := []struct {
		input   string
		host    string
		port    int
		wantErr bool
	}{
		{"http://host-a:1111", "host-a", 1111, false},
		{"tcp://10.0.0.2:45000", "10.0.0.2", 45000, false},
		{"bare-host:80", "bare-host", 80, false},
		{"no-port", "", 0, true},
		{"http://nohost", "", 0, true},
	}

	for _, tt := range tests {
		c, err := parsePublisherURI(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePublisherURI(%q) should fail", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePublisherURI(%q): %v", tt.input, err)
			continue
		}
		if c.Host != tt.host || c.Port != tt.port {
			t.Errorf("parsePublisherURI(%q) = %s:%d", tt.input, c.Host, c.Port)
		}
	}
}

func TestFromRosName(t *testing.T) {
	assert.Equal(t, "/chatter", fromRosName("chatter"))
	assert.Equal(t, "/chatter", fromRosName("/chatter"))
	assert.Equal(t, "", fromRosName(""))
}
