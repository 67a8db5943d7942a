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

// observedWriter 记录发送生命周期回调的消息
type observedWriter struct {
	b            *types.Bottle
	commencement atomic.Int32
	completion   atomic.Int32
}

var _ ifc.Writer = (*observedWriter)(nil)
var _ ifc.CompletionObserver = (*observedWriter)(nil)

func (w *observedWriter) ToBottle() *types.Bottle { return w.b }
func (w *observedWriter) OnCommencement()         { w.commencement.Add(1) }
func (w *observedWriter) OnCompletion()           { w.completion.Add(1) }

func TestSendFanOut(t *testing.T) {
	env := newTestEnv(t)
	rb := &captureReader{}
	rc := &captureReader{}
	env.newPort(t, "/fan-b", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(rb))
	})
	env.newPort(t, "/fan-c", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(rc))
	})
	a := env.newPort(t, "/fan-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/fan-b", &d, false))
	require.True(t, a.AddOutput("/fan-c", &d, false))

	msg := types.NewBottle()
	msg.AddString("broadcast")
	require.True(t, a.Send(BottleMessage(msg), nil, nil))

	require.Eventually(t, func() bool {
		return rb.count() == 1 && rc.count() == 1
	}, time.Second, 5*time.Millisecond)

	rb.mu.Lock()
	assert.Equal(t, "broadcast", rb.frames[0].Get(0).AsString())
	rb.mu.Unlock()
}

func TestSendNoOutputs(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/solo", nil)

	// 没有输出时发送也要走完追踪包生命周期
	w := &observedWriter{b: types.NewBottle()}
	assert.True(t, a.Send(w, nil, nil))
	assert.Equal(t, int32(1), w.commencement.Load())
	assert.Equal(t, int32(1), w.completion.Load())
}

func TestPacketCallbackExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/pkt-b", nil)
	env.newPort(t, "/pkt-c", nil)
	a := env.newPort(t, "/pkt-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/pkt-b", &d, false))
	require.True(t, a.AddOutput("/pkt-c", &d, false))

	// 两个输出承载同一条消息：完成回调恰好一次
	for i := 0; i < 10; i++ {
		w := &observedWriter{b: types.NewBottle()}
		require.True(t, a.Send(w, nil, nil))
		assert.Equal(t, int32(1), w.completion.Load(), "send %d", i)
	}
}

func TestSendAfterClose(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/late", nil)
	require.NoError(t, a.Close())

	msg := types.NewBottle()
	msg.AddString("too late")
	assert.False(t, a.Send(BottleMessage(msg), nil, nil))
}

func TestSendWhileInterrupted(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/intr-send", nil)

	a.Interrupt()
	assert.False(t, a.Send(BottleMessage(types.NewBottle()), nil, nil))
	a.Resume()
	assert.True(t, a.Send(BottleMessage(types.NewBottle()), nil, nil))
}

func TestSendWithReply(t *testing.T) {
	env := newTestEnv(t)

	reply := types.NewBottle()
	reply.AddString("pong")
	server := &captureReader{replyWith: reply}
	env.newPort(t, "/rpc-srv", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(server))
	})

	a := env.newPort(t, "/rpc-cli", nil, WithFlags(types.FlagInput|types.FlagOutput|types.FlagRPC))
	var d Diag
	require.True(t, a.AddOutput("/rpc-srv", &d, false))

	req := types.NewBottle()
	req.AddString("ping")
	got := &captureReader{}
	require.True(t, a.Send(BottleMessage(req), got, nil))

	require.Equal(t, 1, got.count())
	got.mu.Lock()
	assert.Equal(t, "pong", got.frames[0].Get(0).AsString())
	got.mu.Unlock()
}

// vetoModifier 否决含有禁词的消息
type vetoModifier struct {
	veto string
}

var _ ifc.Modifier = (*vetoModifier)(nil)

func (m *vetoModifier) AcceptOutgoing(b *types.Bottle) bool {
	return b.Get(0).AsString() != m.veto
}
func (m *vetoModifier) ModifyOutgoing(b *types.Bottle) *types.Bottle { return b }
func (m *vetoModifier) ModifyIncoming(b *types.Bottle) *types.Bottle { return b }
func (m *vetoModifier) Configure(*types.Property) error              { return nil }
func (m *vetoModifier) SetCarrierParams(*types.Property)             {}
func (m *vetoModifier) GetCarrierParams(*types.Property)             {}
func (m *vetoModifier) Close() error                                 { return nil }

func TestOutputModifierVeto(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/veto", nil)

	a.modifier.attach(true, &vetoModifier{veto: "secret"})

	banned := types.NewBottle()
	banned.AddString("secret")
	assert.False(t, a.Send(BottleMessage(banned), nil, nil))

	fine := types.NewBottle()
	fine.AddString("public")
	assert.True(t, a.Send(BottleMessage(fine), nil, nil))
}

func TestWildcardRemovalUnderLoad(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/load-b", nil)
	env.newPort(t, "/load-c", nil)
	a := env.newPort(t, "/load-a", nil)

	var d Diag
	require.True(t, a.AddOutput("/load-b", &d, false))
	require.True(t, a.AddOutput("/load-c", &d, false))

	// 持续发送的同时用 del * 拆掉一切
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg := types.NewBottle()
			msg.AddString("load")
			a.Send(BottleMessage(msg), nil, nil)
		}
	}()

	cmd := types.NewBottle()
	cmd.AddVocab("del")
	cmd.AddString("*")
	// 管理单元自己也会被通配拆掉，应答可能发不回来
	_, _ = env.adminErr("/load-a", cmd)

	require.Eventually(t, func() bool { return a.GetOutputCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	close(stop)
	wg.Wait()

	// 拆空之后发送仍然安全
	assert.True(t, a.Send(BottleMessage(types.NewBottle()), nil, nil))
	assert.Equal(t, 0, a.GetOutputCount())
}

func TestIsWriting(t *testing.T) {
	env := newTestEnv(t)
	a := env.newPort(t, "/wrt", nil)
	assert.False(t, a.IsWriting())
}
