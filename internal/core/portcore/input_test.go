package portcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// countingCreator 每个入站连接发一个独立回调
type countingCreator struct {
	created atomic.Int32
	readers []*captureReader
	mu      sync.Mutex
}

var _ ifc.ReaderCreator = (*countingCreator)(nil)

func (c *countingCreator) Create() ifc.Reader {
	c.created.Add(1)
	r := &captureReader{}
	c.mu.Lock()
	c.readers = append(c.readers, r)
	c.mu.Unlock()
	return r
}

func (c *countingCreator) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.readers {
		n += r.count()
	}
	return n
}

func TestReaderCreatorPerConnection(t *testing.T) {
	env := newTestEnv(t)

	creator := &countingCreator{}
	env.newPort(t, "/crt-b", func(pc *PortCore) {
		require.NoError(t, pc.SetReaderCreator(creator))
	})

	a1 := env.newPort(t, "/crt-a1", nil)
	a2 := env.newPort(t, "/crt-a2", nil)

	var d Diag
	require.True(t, a1.AddOutput("/crt-b", &d, false))
	require.True(t, a2.AddOutput("/crt-b", &d, false))

	msg := types.NewBottle()
	msg.AddString("x")
	require.True(t, a1.Send(BottleMessage(msg), nil, nil))
	require.True(t, a2.Send(BottleMessage(msg), nil, nil))

	require.Eventually(t, func() bool { return creator.total() == 2 }, time.Second, 5*time.Millisecond)
	// 每个连接一个独立回调
	assert.GreaterOrEqual(t, creator.created.Load(), int32(2))
}

// lockProbeReader 在回调里探测回调锁是否被持有
type lockProbeReader struct {
	mu       *sync.Mutex
	heldSeen atomic.Bool
}

func (r *lockProbeReader) Read(cr ifc.ConnectionReader) bool {
	if _, err := cr.ReadBottle(); err != nil {
		return false
	}
	// 回调期间锁应当已被引擎持有：TryLock 必然失败
	if !r.mu.TryLock() {
		r.heldSeen.Store(true)
	} else {
		r.mu.Unlock()
	}
	return true
}

func TestCallbackLockHeldDuringRead(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	probe := &lockProbeReader{mu: &mu}
	b := env.newPort(t, "/lck-b", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(probe))
	})
	b.SetCallbackLock(&mu)

	a := env.newPort(t, "/lck-a", nil)
	var d Diag
	require.True(t, a.AddOutput("/lck-b", &d, false))

	msg := types.NewBottle()
	msg.AddString("probe")
	require.True(t, a.Send(BottleMessage(msg), nil, nil))

	require.Eventually(t, func() bool { return probe.heldSeen.Load() }, time.Second, 5*time.Millisecond)

	// 移除后回调不再持锁
	b.RemoveCallbackLock()
}

func TestDataWithoutReaderIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	b := env.newPort(t, "/drop-b", nil)
	a := env.newPort(t, "/drop-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/drop-b", &d, false))

	// 没有收件人：发送成功，数据被读掉丢弃，连接不受影响
	msg := types.NewBottle()
	msg.AddString("into the void")
	require.True(t, a.Send(BottleMessage(msg), nil, nil))
	require.True(t, a.Send(BottleMessage(msg), nil, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.GetInputCount())
}
