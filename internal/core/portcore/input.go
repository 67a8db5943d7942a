package portcore

import (
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// 入站路径：输入单元读出完整一帧后，管理帧进指令分发器，
// 数据帧进用户回调；两者都不在控制面锁内执行。

// setInterruptible 开关中断窗口
//
// 围绕用户回调关闭窗口；在 stateMu 下写标志。
func (pc *PortCore) setInterruptible(v bool) {
	pc.stateMu.Lock()
	pc.interruptible = v
	pc.stateMu.Unlock()
}

// handleAdminFrame 处理一帧管理数据
//
// 返回 true 表示对端要求处理完后断开（ROS 兼容语义）。
func (pc *PortCore) handleAdminFrame(u *inputUnit, frame ifc.Frame) bool {
	u.dispatching.Store(true)
	defer u.dispatching.Store(false)

	cr := &inputConnReader{unit: u, body: frame.Body, envelope: frame.Envelope}
	reply := pc.adminBlock(frame.Body, cr, u)

	if reply != nil && u.session.HasReply() {
		if err := u.session.WriteReply(reply); err != nil {
			logger.Debug("写管理应答失败", "route", u.Route().String(), "error", err)
		}
	}
	return cr.dropRequested
}

// readBlock 处理一帧用户数据
func (pc *PortCore) readBlock(u *inputUnit, frame ifc.Frame) bool {
	body := frame.Body

	// 入站修饰器在交付前应用
	pc.modifier.inMu.Lock()
	if pc.modifier.in != nil {
		body = pc.modifier.in.ModifyIncoming(body)
	}
	pc.modifier.inMu.Unlock()

	reader := u.reader()

	pc.stateMu.Lock()
	interrupted := pc.interrupted
	logNeeded := pc.logNeeded
	pc.stateMu.Unlock()

	if reader == nil || interrupted {
		// 没有收件人，读掉丢弃
		logger.Debug("入站数据无人接收，丢弃", "route", u.Route().String())
		return true
	}

	// 回调期间不可中断；快照计数的误差是良性的
	pc.setInterruptible(false)
	defer pc.setInterruptible(true)

	pc.packetMu.Lock()
	haveOutputs := pc.outputCount != 0
	pc.packetMu.Unlock()

	cr := &inputConnReader{unit: u, body: body, envelope: frame.Envelope}

	if logNeeded && haveOutputs {
		// 把用户看到的请求和写回的应答都录下来，
		// 用户回调返回后将记录扇出给日志输出
		rec := newRecorder(cr)
		pc.lockCallback()
		result := reader.Read(rec)
		pc.unlockCallback()
		rec.fini()
		pc.sendHelper(rec, rec.transcript(), types.SendLog, nil, nil)
		return result
	}

	pc.lockCallback()
	result := reader.Read(cr)
	pc.unlockCallback()
	return result
}

// ============================================================================
//                              读取视图
// ============================================================================

// inputConnReader 入站消息的读取视图
type inputConnReader struct {
	unit          *inputUnit
	body          *types.Bottle
	envelope      string
	dropRequested bool
}

var _ ifc.ConnectionReader = (*inputConnReader)(nil)

func (cr *inputConnReader) ReadBottle() (*types.Bottle, error) {
	if cr.body == nil {
		return types.NewBottle(), nil
	}
	return cr.body, nil
}

func (cr *inputConnReader) Route() types.Route {
	return cr.unit.Route()
}

func (cr *inputConnReader) Envelope() string { return cr.envelope }
func (cr *inputConnReader) IsEmpty() bool    { return cr.body == nil }

func (cr *inputConnReader) ReplyWriter() ifc.ReplyWriter {
	if !cr.unit.session.HasReply() {
		return nil
	}
	return sessionReplyWriter{cr.unit.session}
}

func (cr *inputConnReader) RequestDrop() { cr.dropRequested = true }

// sessionReplyWriter 经会话回写通道的应答写入
type sessionReplyWriter struct {
	session ifc.InputSession
}

func (w sessionReplyWriter) WriteBottle(b *types.Bottle) error {
	return w.session.WriteReply(b)
}

// ============================================================================
//                              连接记录器
// ============================================================================

// recorder 包住读取视图，记录请求与应答
//
// 引擎平时不关心经手消息的内容；需要日志时用它截流。
type recorder struct {
	inner   ifc.ConnectionReader
	request *types.Bottle
	replies []*types.Bottle
	fin     bool
}

var _ ifc.ConnectionReader = (*recorder)(nil)
var _ ifc.Writer = (*recorder)(nil)

func newRecorder(inner ifc.ConnectionReader) *recorder {
	return &recorder{inner: inner}
}

func (r *recorder) ReadBottle() (*types.Bottle, error) {
	b, err := r.inner.ReadBottle()
	if err == nil && r.request == nil {
		r.request = b
	}
	return b, err
}

func (r *recorder) Route() types.Route { return r.inner.Route() }
func (r *recorder) Envelope() string   { return r.inner.Envelope() }
func (r *recorder) IsEmpty() bool      { return r.inner.IsEmpty() }
func (r *recorder) RequestDrop()       { r.inner.RequestDrop() }

func (r *recorder) ReplyWriter() ifc.ReplyWriter {
	inner := r.inner.ReplyWriter()
	if inner == nil {
		return nil
	}
	return recordingReplyWriter{rec: r, inner: inner}
}

// fini 结束记录
func (r *recorder) fini() { r.fin = true }

// transcript 渲染记录：(请求, (应答...))
func (r *recorder) transcript() *types.Bottle {
	b := types.NewBottle()
	if r.request != nil {
		b.Add(types.ListValue(r.request))
	} else {
		b.Add(types.ListValue(types.NewBottle()))
	}
	replies := b.AddList()
	for _, reply := range r.replies {
		replies.Add(types.ListValue(reply))
	}
	return b
}

// ToBottle 记录器自己就是可发送消息
func (r *recorder) ToBottle() *types.Bottle { return r.transcript() }

type recordingReplyWriter struct {
	rec   *recorder
	inner ifc.ReplyWriter
}

func (w recordingReplyWriter) WriteBottle(b *types.Bottle) error {
	w.rec.replies = append(w.rec.replies, b)
	return w.inner.WriteBottle(b)
}
