package portcore

import (
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// Send 向所有输出单元扇出一条消息
//
// 先咨询出站修饰器（可否决、可改写），再进入扇出。
// reader 非 nil 时等待应答（RPC 语义）；callback 非 nil 时
// 在追踪包归零的那一刻恰好回调一次。
func (pc *PortCore) Send(writer ifc.Writer, reader ifc.Reader, callback ifc.CompletionObserver) bool {
	body := writer.ToBottle()

	// 修饰器在加载/卸载窗口内也要安全，锁住咨询过程
	pc.modifier.outMu.Lock()
	if pc.modifier.out != nil {
		if !pc.modifier.out.AcceptOutgoing(body) {
			pc.modifier.outMu.Unlock()
			return false
		}
		body = pc.modifier.out.ModifyOutgoing(body)
	}
	pc.modifier.outMu.Unlock()

	return pc.sendHelper(writer, body, types.SendNormal, reader, callback)
}

// sendHelper 扇出主路径
//
// 单次扇出对单元表是原子的：持有控制面锁完成全部投递，
// 表的变更不可能插进扇出中间。不同输出单元之间不承诺
// 先后；同一单元内按入队顺序投递。
func (pc *PortCore) sendHelper(writer ifc.Writer, body *types.Bottle, mode types.SendMode, reader ifc.Reader, callback ifc.CompletionObserver) bool {
	pc.stateMu.Lock()
	if pc.interrupted || pc.finishing || pc.state == types.StateFinished {
		pc.stateMu.Unlock()
		return false
	}

	// 给用户一个"要开始写了"的通知
	if obs, ok := writer.(ifc.CompletionObserver); ok {
		obs.OnCommencement()
	}

	allOK := true
	gotReply := false
	logCount := 0
	fanout := 0
	envelope := pc.envelope

	// 准备追踪包：一条消息可能走多个输出
	pc.packetMu.Lock()
	pkt := pc.packets.get(writer, callback)
	pc.packetMu.Unlock()

	// 扫描单元表，凡是能放的地方都放一份
	for _, u := range pc.units {
		out, ok := u.(*outputUnit)
		if !ok || u == nil || u.IsFinished() {
			continue
		}
		isLog := u.Mode() != ""
		if isLog {
			// 有些连接只做日志
			logCount++
		}
		want := isLog
		if mode == types.SendNormal {
			want = !isLog
		}
		if !want {
			continue
		}

		// 又多了一个携带这条消息的连接
		pc.packetMu.Lock()
		pkt.inc()
		pc.packetMu.Unlock()

		job := &sendJob{
			body:      body,
			envelope:  envelope,
			reader:    reader,
			packet:    pkt,
			waitAfter: pc.config.WaitAfterSend || mode == types.SendLog,
		}
		synced, gotReplyOne := out.send(job)
		gotReply = gotReply || gotReplyOne
		fanout++

		if synced {
			// 这一份已经走完（或没走成），立即释放持有
			pc.packetMu.Lock()
			pkt.dec()
			pc.packets.check(pkt)
			pc.packetMu.Unlock()
		}

		if job.waitAfter && u.IsFinished() {
			allOK = false
		}
	}

	// 发送者不再关心这条消息：它可能还在某些连接上旅行，
	// 但那已经不是我们的问题
	pc.packetMu.Lock()
	pkt.dec()
	pc.packets.check(pkt)
	pc.packetMu.Unlock()

	if mode == types.SendLog && logCount == 0 {
		// 没有日志连接了，后续的记录路径可以绕开
		pc.logNeeded = false
	}

	waitAfter := pc.config.WaitAfterSend
	pc.stateMu.Unlock()

	if pc.instruments != nil {
		pc.instruments.SendObserved(mode, fanout)
	}

	if waitAfter && reader != nil {
		allOK = allOK && gotReply
	}
	return allOK
}
