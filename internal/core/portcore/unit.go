package portcore

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-port/pkg/types"
)

// portUnit 一条活动连接加上它的 worker
//
// 生命周期：starting → active → doomed → finished → reaped。
// 只有监听循环通过 accept 创建输入单元；PortCore 的用户调用
// 通过拨号创建输出单元；只有收割器删除单元。
type portUnit interface {
	// Index 本端口内单调递增的单元序号
	Index() int32

	// Direction 方向
	Direction() types.Direction

	// Route 当前路由
	Route() types.Route

	// Mode 模式串；非空表示日志连接
	Mode() string

	// Doom 标记待拆除；单元应在最近的 I/O 边界停止服务
	Doom()

	// IsDoomed 是否已标记拆除
	IsDoomed() bool

	// IsFinished worker 是否已退出
	IsFinished() bool

	// IsBusy 是否正在写出
	IsBusy() bool

	// PuppedTag ROS publisherUpdate 对账标签；非 pupped 单元返回 ("", false)
	PuppedTag() (string, bool)

	// Start 启动 worker
	Start()

	// Close 请求停止：关闭底层会话以解除 worker 的阻塞
	Close()

	// Join 等待 worker 退出
	Join()

	// SetCarrierParams 更新载体参数
	SetCarrierParams(p *types.Property)

	// GetCarrierParams 读取载体参数
	GetCarrierParams(p *types.Property)

	// SetTOS 设置服务类型字节
	SetTOS(tos int) bool

	// GetTOS 读取服务类型字节，不可用返回 -1
	GetTOS() int
}

// unitBase 单元公共状态
type unitBase struct {
	port  *PortCore
	idx   int32
	dir   types.Direction
	umode string

	routeMu sync.Mutex
	uroute  types.Route

	doomed   atomic.Bool
	finished atomic.Bool
	busy     atomic.Bool

	// dispatching worker 正在执行管理指令分发。
	// 收割器对这样的单元只关会话不合流，避免指令里的
	// 同步拆除等到自己头上时互相卡死。
	dispatching atomic.Bool

	pupMu  sync.Mutex
	pupTag string
	pupSet bool

	done chan struct{}
}

func (u *unitBase) Index() int32               { return u.idx }
func (u *unitBase) Direction() types.Direction { return u.dir }
func (u *unitBase) Mode() string               { return u.umode }

func (u *unitBase) Route() types.Route {
	u.routeMu.Lock()
	defer u.routeMu.Unlock()
	return u.uroute
}

func (u *unitBase) setRoute(r types.Route) {
	u.routeMu.Lock()
	u.uroute = r
	u.routeMu.Unlock()
}

func (u *unitBase) Doom()            { u.doomed.Store(true) }
func (u *unitBase) IsDoomed() bool   { return u.doomed.Load() }
func (u *unitBase) IsFinished() bool { return u.finished.Load() }
func (u *unitBase) IsBusy() bool     { return u.busy.Load() }

func (u *unitBase) PuppedTag() (string, bool) {
	u.pupMu.Lock()
	defer u.pupMu.Unlock()
	return u.pupTag, u.pupSet
}

func (u *unitBase) setPupped(tag string) {
	u.pupMu.Lock()
	u.pupTag = tag
	u.pupSet = true
	u.pupMu.Unlock()
}

// inDispatch worker 是否正在执行管理指令分发
func (u *unitBase) inDispatch() bool { return u.dispatching.Load() }

// Join 等待 worker 退出
func (u *unitBase) Join() {
	<-u.done
}
