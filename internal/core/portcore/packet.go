package portcore

import (
	ifc "github.com/dep2p/go-port/pkg/interfaces"
)

// 追踪包：一条消息在多个输出上旅行时的引用计数描述符。
// 空闲链表和计数操作都在 packetMu 下进行，单线程化。

// packet 消息追踪包
type packet struct {
	// writer 用户提供的可写消息
	writer ifc.Writer

	// callback 完成回调；nil 时回退到 writer（若它实现了观察者）
	callback ifc.CompletionObserver

	// count 未完成持有数；发送者自身占一个
	count int

	// completed 完成回调是否已触发
	completed bool

	// next 空闲链表
	next *packet
}

// observer 返回应当收到完成通知的对象
func (p *packet) observer() ifc.CompletionObserver {
	if p.callback != nil {
		return p.callback
	}
	if obs, ok := p.writer.(ifc.CompletionObserver); ok {
		return obs
	}
	return nil
}

// inc 增加一个持有
func (p *packet) inc() { p.count++ }

// dec 释放一个持有
func (p *packet) dec() { p.count-- }

// packetPool 追踪包空闲链表
//
// 只能在 packetMu 下操作。
type packetPool struct {
	free  *packet
	inUse int
}

// get 取一个干净的追踪包
func (pp *packetPool) get(writer ifc.Writer, callback ifc.CompletionObserver) *packet {
	p := pp.free
	if p != nil {
		pp.free = p.next
		p.next = nil
	} else {
		p = &packet{}
	}
	p.writer = writer
	p.callback = callback
	p.count = 1 // 发送者自身的持有
	p.completed = false
	pp.inUse++
	return p
}

// check 检查追踪包是否走完旅程
//
// 计数归零时触发一次完成回调并回收；
// 同一次分配至多回调一次。
func (pp *packetPool) check(p *packet) {
	if p == nil || p.count > 0 {
		return
	}
	if !p.completed {
		p.completed = true
		if obs := p.observer(); obs != nil {
			obs.OnCompletion()
		}
	}
	p.writer = nil
	p.callback = nil
	p.next = pp.free
	pp.free = p
	pp.inUse--
}

// notifyCompletion 单元完成一次投递后的回调入口
//
// 直接完成或经应答路径完成的单元各调用恰好一次。
func (pc *PortCore) notifyCompletion(p *packet) {
	if p == nil {
		return
	}
	pc.packetMu.Lock()
	p.dec()
	pc.packets.check(p)
	inFlight := pc.packets.inUse
	pc.packetMu.Unlock()

	if pc.instruments != nil {
		pc.instruments.PacketsInFlight(inFlight)
	}
}
