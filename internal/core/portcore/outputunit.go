package portcore

import (
	"sync"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// sendJob 交给输出单元 worker 的一次投递
type sendJob struct {
	// body 预渲染的数据体
	body *types.Bottle

	// envelope 随行信封
	envelope string

	// reader 应答接收回调，nil 表示不等应答
	reader ifc.Reader

	// packet 追踪包；worker 路径负责恰好一次完成通知
	packet *packet

	// waitAfter 调用方阻塞等待写完
	waitAfter bool

	// done waitAfter 时由 worker 关闭
	done chan struct{}

	// gotReply 是否收到应答（done 关闭后可读）
	gotReply bool
}

// outputUnit 出站连接单元
//
// 包装一个出站会话和一个写 worker。投递经由无缓冲通道
// 交接，worker 空闲时才接单，天然实现发送前等待。
type outputUnit struct {
	unitBase

	session ifc.OutputSession

	jobs chan *sendJob

	stopOnce sync.Once
	stop     chan struct{}
}

var _ portUnit = (*outputUnit)(nil)

func newOutputUnit(pc *PortCore, idx int32, session ifc.OutputSession) *outputUnit {
	route := session.Route()
	u := &outputUnit{
		unitBase: unitBase{
			port:   pc,
			idx:    idx,
			dir:    types.DirOutput,
			umode:  logModeOf(route.Carrier),
			uroute: route,
			done:   make(chan struct{}),
		},
		session: session,
		jobs:    make(chan *sendJob),
		stop:    make(chan struct{}),
	}
	return u
}

// logModeOf 解析载体名中的 log 修饰符
//
// "tcp+log.in" 返回 "in"；无修饰符返回空串。
func logModeOf(carrier string) string {
	const marker = "+log."
	for i := 0; i+len(marker) <= len(carrier); i++ {
		if carrier[i:i+len(marker)] == marker {
			rest := carrier[i+len(marker):]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '+' {
					return rest[:j]
				}
			}
			return rest
		}
	}
	return ""
}

// Start 启动写 worker
func (u *outputUnit) Start() {
	go u.run()
}

// Close 请求停止
func (u *outputUnit) Close() {
	u.Doom()
	u.stopOnce.Do(func() { close(u.stop) })
	_ = u.session.Close()
}

// SetCarrierParams 更新载体参数
func (u *outputUnit) SetCarrierParams(p *types.Property) {
	u.session.SetCarrierParams(p)
}

// GetCarrierParams 读取载体参数
func (u *outputUnit) GetCarrierParams(p *types.Property) {
	u.session.GetCarrierParams(p)
}

// SetTOS 设置出站流的服务类型
func (u *outputUnit) SetTOS(tos int) bool {
	return u.session.SetTOS(tos) == nil
}

// GetTOS 读取出站流的服务类型
func (u *outputUnit) GetTOS() int {
	return u.session.GetTOS()
}

// send 把一次投递交给本单元
//
// 返回 synced=true 表示这次投递的持有仍归调用方释放
// （写已同步完成，或单元已不可用未接单）；synced=false 表示
// worker 接管了追踪包，会在写完后调用 notifyCompletion。
func (u *outputUnit) send(job *sendJob) (synced bool, gotReply bool) {
	if u.IsDoomed() || u.IsFinished() {
		return true, false
	}

	if job.waitAfter {
		job.done = make(chan struct{})
	}

	select {
	case u.jobs <- job:
	case <-u.done:
		// worker 已退出，未投递
		return true, false
	}

	if job.waitAfter {
		<-job.done
		return true, job.gotReply
	}
	return false, false
}

// run 写 worker 主循环
func (u *outputUnit) run() {
	pc := u.port

	defer func() {
		u.finished.Store(true)
		close(u.done)
	}()

	u.session.AttachPort(portRef{pc})
	if timeout := pc.timeoutValue(); timeout > 0 {
		u.session.SetTimeout(timeout)
	}

	pc.reportUnit(u, true)
	defer pc.reportUnit(u, false)

	for {
		select {
		case <-u.stop:
			return
		case job := <-u.jobs:
			failed := u.process(job)
			if failed {
				// 连接级 I/O 错误：标记拆除，由收割器回收
				u.Doom()
				return
			}
		}
	}
}

// process 执行一次投递，保证恰好一次完成通知
func (u *outputUnit) process(job *sendJob) (failed bool) {
	u.busy.Store(true)

	defer func() {
		u.busy.Store(false)
		if job.waitAfter {
			close(job.done)
		} else {
			u.port.notifyCompletion(job.packet)
		}
	}()

	if err := u.session.WriteFrame(job.body, job.envelope, false); err != nil {
		logger.Debug("出站写入失败", "route", u.Route().String(), "error", err)
		return true
	}

	if job.reader != nil && u.session.SupportsReply() {
		reply, err := u.session.ReadReply()
		if err != nil {
			logger.Debug("读取应答失败", "route", u.Route().String(), "error", err)
			return true
		}
		job.reader.Read(&replyReader{route: u.Route().Swapped(), body: reply})
		job.gotReply = true
	}
	return false
}

// replyReader 应答的读取视图
type replyReader struct {
	route types.Route
	body  *types.Bottle
}

var _ ifc.ConnectionReader = (*replyReader)(nil)

func (r *replyReader) ReadBottle() (*types.Bottle, error) {
	if r.body == nil {
		return types.NewBottle(), nil
	}
	return r.body, nil
}

func (r *replyReader) Route() types.Route             { return r.route }
func (r *replyReader) Envelope() string               { return "" }
func (r *replyReader) IsEmpty() bool                  { return r.body == nil }
func (r *replyReader) ReplyWriter() ifc.ReplyWriter   { return nil }
func (r *replyReader) RequestDrop()                   {}
