package portcore

import (
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// inputUnit 入站连接单元
//
// 包装一个入站会话；worker 循环读帧，把数据帧交给用户回调、
// 管理帧交给指令分发器。反向（拉式）连接也注册为输入单元。
type inputUnit struct {
	unitBase

	session ifc.InputSession

	// reverse 是否为翻转而来的拉式连接
	reverse bool

	// localReader 读取回调工厂为本连接创建的独立回调
	localReader ifc.Reader
}

var _ portUnit = (*inputUnit)(nil)

func newInputUnit(pc *PortCore, idx int32, session ifc.InputSession, reverse bool) *inputUnit {
	u := &inputUnit{
		unitBase: unitBase{
			port: pc,
			idx:  idx,
			dir:  types.DirInput,
			done: make(chan struct{}),
		},
		session: session,
		reverse: reverse,
	}
	return u
}

// Start 启动 worker
func (u *inputUnit) Start() {
	go u.run()
}

// Close 请求停止
//
// 关闭底层会话以解除 worker 阻塞中的读。
func (u *inputUnit) Close() {
	u.Doom()
	_ = u.session.Close()
}

// SetCarrierParams 更新载体参数
func (u *inputUnit) SetCarrierParams(p *types.Property) {
	u.session.SetCarrierParams(p)
}

// GetCarrierParams 读取载体参数
func (u *inputUnit) GetCarrierParams(p *types.Property) {
	u.session.GetCarrierParams(p)
}

// SetTOS 在回写通道上设置服务类型
//
// 带应答的输入连接（如 tcp 的 ack 通道）也要应用 QoS 设置。
func (u *inputUnit) SetTOS(tos int) bool {
	return u.session.SetTOS(tos) == nil
}

// GetTOS 读取回写通道的服务类型
func (u *inputUnit) GetTOS() int {
	return u.session.GetTOS()
}

// run worker 主循环
func (u *inputUnit) run() {
	pc := u.port

	defer func() {
		_ = u.session.Close()
		u.finished.Store(true)
		close(u.done)
	}()

	u.session.AttachPort(portRef{pc})
	if timeout := pc.timeoutValue(); timeout > 0 {
		u.session.SetTimeout(timeout)
	}

	// 握手：对端声明路由。自连唤醒产生的空白连接在这里
	// 直接失败退出，由收割器回收。
	route, err := u.session.Open()
	if err != nil {
		logger.Debug("入站会话握手失败", "port", pc.Name(), "error", err)
		return
	}
	if !u.reverse && route.To == "" {
		route.To = pc.Name()
	}
	u.setRoute(route)

	if creator := pc.readerCreatorRef(); creator != nil {
		u.localReader = creator.Create()
	}

	pc.reportUnit(u, true)
	logger.Debug("入站连接建立", "route", route.String())

	dropRequested := false
	for !u.IsDoomed() && !dropRequested {
		frame, err := u.session.ReadFrame()
		if err != nil {
			break
		}
		if frame.Admin {
			dropRequested = pc.handleAdminFrame(u, frame)
			continue
		}
		pc.readBlock(u, frame)
	}

	pc.reportUnit(u, false)
	logger.Debug("入站连接退出", "route", route.String())
}

// reader 返回本连接应使用的读取回调
func (u *inputUnit) reader() ifc.Reader {
	if u.localReader != nil {
		return u.localReader
	}
	return u.port.readerRef()
}

// portRef 会话可见的端口窄句柄
type portRef struct {
	pc *PortCore
}

func (r portRef) PortName() string          { return r.pc.Name() }
func (r portRef) PortFlags() types.PortFlag { return r.pc.Flags() }

var _ ifc.PortRef = portRef{}
