package portcore

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-port/internal/core/carrier"
	"github.com/dep2p/go-port/internal/core/nameclient"
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// testEnv 一套共享的载体注册表与名字服务
//
// 端口之间经 local 载体互联。
type testEnv struct {
	reg   *carrier.Registry
	names *nameclient.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := carrier.NewRegistry()
	require.NoError(t, reg.Register(carrier.NewLocal()))
	names := nameclient.New(nameclient.WithCarriers(reg))
	return &testEnv{reg: reg, names: names}
}

// newPort 建一个监听中的端口；configure 在 Start 前执行
func (e *testEnv) newPort(t *testing.T, name string, configure func(*PortCore), opts ...Option) *PortCore {
	t.Helper()
	pc, err := NewPortCore(e.reg, e.names, opts...)
	require.NoError(t, err)
	require.NoError(t, pc.Listen(types.Contact{Name: name, Carrier: "local"}, true))
	if configure != nil {
		configure(pc)
	}
	_, err = e.names.Register(pc.Name(), pc.Address())
	require.NoError(t, err)
	require.NoError(t, pc.Start())
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

// admin 经管理通道对 target 执行一条指令
func (e *testEnv) admin(t *testing.T, target string, cmd *types.Bottle) *types.Bottle {
	t.Helper()
	reply, err := e.adminErr(target, cmd)
	require.NoError(t, err)
	return reply
}

func (e *testEnv) adminErr(target string, cmd *types.Bottle) (*types.Bottle, error) {
	contact, err := e.names.QueryName(target)
	if err != nil {
		return nil, err
	}
	sess, err := e.reg.Connect(contact)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if err := sess.Open(types.NewRoute("/admin-cli", target, contact.Carrier)); err != nil {
		return nil, err
	}
	if err := sess.WriteFrame(cmd, "", true); err != nil {
		return nil, err
	}
	return sess.ReadReply()
}

// captureReader 记录收到的消息，可选自动应答
type captureReader struct {
	mu        sync.Mutex
	frames    []*types.Bottle
	envelopes []string
	empties   int
	replyWith *types.Bottle
}

var _ ifc.Reader = (*captureReader)(nil)

func (r *captureReader) Read(cr ifc.ConnectionReader) bool {
	b, err := cr.ReadBottle()
	if err != nil {
		return false
	}
	r.mu.Lock()
	if cr.IsEmpty() {
		r.empties++
		r.mu.Unlock()
		return true
	}
	r.frames = append(r.frames, b)
	r.envelopes = append(r.envelopes, cr.Envelope())
	reply := r.replyWith
	r.mu.Unlock()

	if reply != nil {
		if w := cr.ReplyWriter(); w != nil {
			_ = w.WriteBottle(reply)
		}
	}
	return true
}

func (r *captureReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *captureReader) emptyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.empties
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestLifecycleStates(t *testing.T) {
	env := newTestEnv(t)

	pc, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)
	assert.Equal(t, types.StateIdle, pc.State())

	require.NoError(t, pc.Listen(types.Contact{Name: "/state", Carrier: "local"}, false))
	assert.Equal(t, types.StateListening, pc.State())

	require.NoError(t, pc.Start())
	assert.Equal(t, types.StateRunning, pc.State())

	require.NoError(t, pc.Close())
	assert.Equal(t, types.StateIdle, pc.State())
}

func TestListenCloseRoundTrip(t *testing.T) {
	// 监听后直接关闭：回到 Idle，标志复位
	env := newTestEnv(t)
	pc, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)

	require.NoError(t, pc.Listen(types.Contact{Name: "/rt", Carrier: "local"}, false))
	require.NoError(t, pc.Close())
	assert.Equal(t, types.StateIdle, pc.State())
	assert.False(t, pc.IsInterrupted())

	// 可以重新监听
	require.NoError(t, pc.Listen(types.Contact{Name: "/rt", Carrier: "local"}, false))
	require.NoError(t, pc.Close())
}

func TestCloseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/idem", nil)

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	assert.Equal(t, types.StateIdle, pc.State())
}

func TestListenTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/twice", nil)
	assert.ErrorIs(t, pc.Listen(types.Contact{Name: "/twice", Carrier: "local"}, false), ErrAlreadyListening)
}

func TestListenNameConflict(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/conflict", nil)
	addr := pc.Address()

	other, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)
	// 同一地址无法再绑定
	assert.Error(t, other.Listen(addr, false))
}

func TestAutoAssignedName(t *testing.T) {
	env := newTestEnv(t)
	pc, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)
	require.NoError(t, pc.Listen(types.Contact{Name: types.AutoName, Carrier: "local"}, false))
	defer pc.Close()

	assert.NotEqual(t, types.AutoName, pc.Name())
	assert.Equal(t, pc.Address().AutoAssignedName(), pc.Name())
}

func TestManualStart(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/sink", nil)

	pc, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)
	require.NoError(t, pc.ManualStart("/writer"))
	assert.Equal(t, types.StateManual, pc.State())
	assert.Equal(t, "/writer", pc.Name())
	defer pc.Close()

	// 只写模式仍可建立输出
	var d Diag
	require.True(t, pc.AddOutput("/sink", &d, false))
	assert.Equal(t, 1, pc.GetOutputCount())
}

func TestSetReaderWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/hot", nil)
	assert.ErrorIs(t, pc.SetReader(&captureReader{}), ErrPortRunning)
	assert.ErrorIs(t, pc.SetAdminReader(&captureReader{}), ErrPortRunning)
}

// ============================================================================
//                              中断协议
// ============================================================================

func TestInterruptResume(t *testing.T) {
	env := newTestEnv(t)
	reader := &captureReader{}
	pc := env.newPort(t, "/intr", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(reader))
	})

	// 可中断时投递一次合成空读
	pc.Interrupt()
	assert.True(t, pc.IsInterrupted())
	assert.Equal(t, 1, reader.emptyCount())

	// 清除中断态后回调依旧可用
	pc.Resume()
	assert.False(t, pc.IsInterrupted())
}

func TestInterruptBlocksDelivery(t *testing.T) {
	env := newTestEnv(t)
	reader := &captureReader{}
	b := env.newPort(t, "/intr-b", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(reader))
	})
	a := env.newPort(t, "/intr-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/intr-b", &d, false))

	b.Interrupt()
	emptyBefore := reader.emptyCount()

	msg := types.NewBottle()
	msg.AddString("dropped")
	a.Send(BottleMessage(msg), nil, nil)

	// 中断期间数据被丢弃
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, reader.count())

	b.Resume()
	msg2 := types.NewBottle()
	msg2.AddString("delivered")
	a.Send(BottleMessage(msg2), nil, nil)

	require.Eventually(t, func() bool { return reader.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, emptyBefore, reader.emptyCount())
}

// ============================================================================
//                              单元表
// ============================================================================

func TestNextIndexWrap(t *testing.T) {
	env := newTestEnv(t)
	pc, err := NewPortCore(env.reg, env.names)
	require.NoError(t, err)

	// 序号从 1 起
	assert.Equal(t, int32(1), pc.nextIndex())
	assert.Equal(t, int32(2), pc.nextIndex())

	// 回绕到 1，0 永不复用
	pc.counter = math.MaxInt32
	assert.Equal(t, int32(math.MaxInt32), pc.nextIndex())
	assert.Equal(t, int32(1), pc.nextIndex())
	assert.Positive(t, pc.nextIndex())
}

func TestRemoveAllWildcard(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/w-b", nil)
	env.newPort(t, "/w-c", nil)
	a := env.newPort(t, "/w-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/w-b", &d, false))
	require.True(t, a.AddOutput("/w-c", &d, false))
	require.Equal(t, 2, a.GetOutputCount())

	// 全通配拆除一切
	a.RemoveIO(types.NewRoute("*", "*", "*"), true)
	assert.Equal(t, 0, a.GetOutputCount())
	assert.Equal(t, 0, a.GetInputCount())
}

func TestAddRemoveOutputCount(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/cnt-b", nil)
	a := env.newPort(t, "/cnt-a", nil)

	before := a.GetOutputCount()
	var d Diag
	require.True(t, a.AddOutput("/cnt-b", &d, false))
	require.Equal(t, before+1, a.GetOutputCount())

	d = Diag{}
	a.RemoveOutput("/cnt-b", &d)
	assert.Equal(t, before, a.GetOutputCount())
	assert.Contains(t, d.String(), "Removed connection from /cnt-a to /cnt-b")
}

func TestAddOutputOnlyIfNeeded(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/need-b", nil)
	a := env.newPort(t, "/need-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/need-b", &d, false))
	require.Equal(t, 1, a.GetOutputCount())

	// 载体相符的连接已存在：直接成功，不新建单元
	d = Diag{}
	require.True(t, a.AddOutput("/need-b", &d, true))
	assert.Contains(t, d.String(), "already present")
	assert.Equal(t, 1, a.GetOutputCount())
}

func TestAddOutputUnknownName(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/lost-a", nil)

	var d Diag
	assert.False(t, a.AddOutput("/no-such-port", &d, false))
	assert.Contains(t, d.String(), "Do not know how to connect to /no-such-port")
	assert.Equal(t, 0, a.GetOutputCount())
}

// ============================================================================
//                              信封
// ============================================================================

func TestEnvelopeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/env", nil)

	pc.SetEnvelope("stamp 42")
	assert.Equal(t, "stamp 42", pc.GetEnvelope())

	// 第一个控制字符处截断
	pc.SetEnvelope("abc\x01def")
	assert.Equal(t, "abc", pc.GetEnvelope())

	pc.SetEnvelope("")
	assert.Equal(t, "", pc.GetEnvelope())
}

func TestEnvelopeTravels(t *testing.T) {
	env := newTestEnv(t)
	reader := &captureReader{}
	env.newPort(t, "/env-b", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(reader))
	})
	a := env.newPort(t, "/env-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/env-b", &d, false))

	a.SetEnvelope("t=1.5")
	msg := types.NewBottle()
	msg.AddString("payload")
	require.True(t, a.Send(BottleMessage(msg), nil, nil))

	require.Eventually(t, func() bool { return reader.count() == 1 }, time.Second, 5*time.Millisecond)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, "t=1.5", reader.envelopes[0])
}

// ============================================================================
//                              描述
// ============================================================================

type captureReporter struct {
	mu    sync.Mutex
	infos []types.PortInfo
}

func (r *captureReporter) Report(info types.PortInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, info)
	r.mu.Unlock()
}

func TestDescribe(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/desc-b", nil)
	a := env.newPort(t, "/desc-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/desc-b", &d, false))

	rep := &captureReporter{}
	a.Describe(rep)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.NotEmpty(t, rep.infos)
	assert.Contains(t, rep.infos[0].Message, "This is /desc-a")

	foundOut := false
	for _, info := range rep.infos {
		if info.Tag == types.InfoConnection && !info.Incoming && info.TargetName == "/desc-b" {
			foundOut = true
		}
		// 输入侧只报载体名非空的单元
		if info.Tag == types.InfoConnection && info.Incoming {
			assert.NotEmpty(t, info.CarrierName)
		}
	}
	assert.True(t, foundOut)
}

// ============================================================================
//                              类型注册
// ============================================================================

func TestPayloadType(t *testing.T) {
	env := newTestEnv(t)
	pc := env.newPort(t, "/typ", nil)

	assert.Empty(t, pc.PayloadType())

	pc.CheckType("bottle")
	assert.Equal(t, "bottle", pc.PayloadType())

	// 惰性记录只生效一次
	pc.CheckType("image")
	assert.Equal(t, "bottle", pc.PayloadType())

	pc.PromiseType("image")
	assert.Equal(t, "image", pc.PayloadType())
}
