package portcore

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/lib/log"
	"github.com/dep2p/go-port/pkg/types"
)

var logger = log.Logger("core/portcore")

// PortCore 端口连接引擎
//
// 持有监听端点与单元表，所有公共修改操作经控制面锁串行化。
type PortCore struct {
	// stateMu 控制面锁：串行化几乎所有状态访问，短持有
	stateMu sync.Mutex

	// state 生命周期状态（显式状态机）
	state types.PortState

	// starting Start 与监听循环的会合进行中
	starting bool

	// closing 监听循环应当退出
	closing bool

	// finishing closeMain 进行中（幂等保护）
	finishing bool

	// interrupted / interruptible 中断协议
	interrupted   bool
	interruptible bool

	name    string
	address types.Contact

	face ifc.Face

	// units 有序单元表，空槽为 nil；只有收割器删除条目
	units []portUnit

	// counter 单元序号计数器，回绕到 1，0 永不复用
	counter int32

	// events 连接事件计数
	events int

	// connMu/connCond 连接变化条件变量
	connMu   sync.Mutex
	connCond *sync.Cond

	// packetMu 追踪包锁：保护空闲链表和快读计数快照
	packetMu    sync.Mutex
	packets     packetPool
	inputCount  int
	outputCount int

	// dataOutputCount 无日志修饰的推式输出数（stateMu 下）
	dataOutputCount int

	reader        ifc.Reader
	adminReader   ifc.Reader
	readerCreator ifc.ReaderCreator
	reporter      ifc.Reporter

	envelope  string
	logNeeded bool

	// portTOS 对自身端口名设置过的 TOS 字节，未设置为 -1
	portTOS int

	// prop 用户属性表（stateMu 下惰性创建）
	prop *types.Property

	// callbackMu 回调锁，包住每次用户回调
	callbackMu    *sync.Mutex
	callbackOwned bool

	// typeMu 惰性负载类型
	typeMu      sync.Mutex
	payloadType string
	checkedType bool

	modifier        portModifier
	modifierFactory ifc.ModifierFactory

	// rosDialer ROS 话题拨号器，nil 时用内建实现
	rosDialer ROSTopicDialer

	carriers ifc.CarrierRegistry
	names    ifc.NameService

	config      *Config
	clock       clock.Clock
	instruments Instruments

	// listenerDone 监听循环退出信号
	listenerDone chan struct{}
}

// NewPortCore 创建端口引擎
//
// 载体注册表与名字服务是必选依赖。
func NewPortCore(carriers ifc.CarrierRegistry, names ifc.NameService, opts ...Option) (*PortCore, error) {
	if carriers == nil || names == nil {
		return nil, ErrInvalidConfig
	}

	pc := &PortCore{
		state:         types.StateIdle,
		counter:       1,
		interruptible: true,
		portTOS:       -1,
		carriers:      carriers,
		names:         names,
		config:        DefaultConfig(),
		clock:         clock.New(),
	}
	pc.connCond = sync.NewCond(&pc.connMu)

	for _, opt := range opts {
		if err := opt(pc); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// ============================================================================
//                              基本访问
// ============================================================================

// Name 注册名
func (pc *PortCore) Name() string {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.name
}

// ResetPortName 改写登记在地址里的端口名
//
// 名字服务在注册时改名后由上层回写。
func (pc *PortCore) ResetPortName(name string) {
	pc.stateMu.Lock()
	pc.address.Name = name
	pc.name = name
	pc.stateMu.Unlock()
}

// Address 监听地址
func (pc *PortCore) Address() types.Contact {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.address
}

// Flags 端口能力标志
func (pc *PortCore) Flags() types.PortFlag {
	return pc.config.Flags
}

// State 当前生命周期状态
func (pc *PortCore) State() types.PortState {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.state
}

// IsListening 是否持有监听端点
func (pc *PortCore) IsListening() bool {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.state == types.StateListening || pc.state == types.StateRunning
}

// IsManual 是否处于只写模式
func (pc *PortCore) IsManual() bool {
	return pc.State() == types.StateManual
}

// IsInterrupted 是否处于中断态
func (pc *PortCore) IsInterrupted() bool {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.interrupted
}

// GetEventCount 监听循环处理过的连接事件数
func (pc *PortCore) GetEventCount() int {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.events
}

// timeoutValue 读取配置超时
func (pc *PortCore) timeoutValue() time.Duration {
	return pc.config.Timeout
}

// readerRef 读取用户回调
func (pc *PortCore) readerRef() ifc.Reader {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.reader
}

// readerCreatorRef 读取回调工厂
func (pc *PortCore) readerCreatorRef() ifc.ReaderCreator {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.readerCreator
}

// ============================================================================
//                              启动前设置器
// ============================================================================

// SetReader 安装用户数据回调
//
// 只允许在 Running 之前调用。
func (pc *PortCore) SetReader(reader ifc.Reader) error {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.state == types.StateRunning {
		return ErrPortRunning
	}
	pc.reader = reader
	return nil
}

// SetAdminReader 安装管理指令兜底回调
func (pc *PortCore) SetAdminReader(reader ifc.Reader) error {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.state == types.StateRunning {
		return ErrPortRunning
	}
	pc.adminReader = reader
	return nil
}

// SetReaderCreator 安装读取回调工厂
func (pc *PortCore) SetReaderCreator(creator ifc.ReaderCreator) error {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.state == types.StateRunning {
		return ErrPortRunning
	}
	pc.readerCreator = creator
	return nil
}

// SetReporter 安装事件上报通道
func (pc *PortCore) SetReporter(r ifc.Reporter) {
	pc.stateMu.Lock()
	pc.reporter = r
	pc.stateMu.Unlock()
}

// ResetReporter 移除事件上报通道
func (pc *PortCore) ResetReporter() {
	pc.stateMu.Lock()
	pc.reporter = nil
	pc.stateMu.Unlock()
}

// SetTimeout 设置连接读写超时
func (pc *PortCore) SetTimeout(d time.Duration) {
	pc.config.Timeout = d
}

// SetVerbosity 调整日志级别
func (pc *PortCore) SetVerbosity(level int) {
	switch {
	case level <= 0:
		log.SetLevel(log.LevelWarn)
	case level == 1:
		log.SetLevel(log.LevelInfo)
	default:
		log.SetLevel(log.LevelDebug)
	}
}

// SetControlRegistration 设置关闭时是否向名字服务注销
func (pc *PortCore) SetControlRegistration(flag bool) {
	pc.config.ControlRegistration = flag
}

// SetWaitBeforeSend 设置发送前等待
func (pc *PortCore) SetWaitBeforeSend(wait bool) {
	pc.config.WaitBeforeSend = wait
}

// SetWaitAfterSend 设置发送后等待
func (pc *PortCore) SetWaitAfterSend(wait bool) {
	pc.config.WaitAfterSend = wait
}

// ============================================================================
//                              回调锁
// ============================================================================

// SetCallbackLock 安装回调锁
//
// mutex 为 nil 时引擎自己分配一把。
func (pc *PortCore) SetCallbackLock(mutex *sync.Mutex) {
	pc.RemoveCallbackLock()
	pc.stateMu.Lock()
	if mutex != nil {
		pc.callbackMu = mutex
		pc.callbackOwned = false
	} else {
		pc.callbackMu = &sync.Mutex{}
		pc.callbackOwned = true
	}
	pc.stateMu.Unlock()
}

// RemoveCallbackLock 移除回调锁
func (pc *PortCore) RemoveCallbackLock() {
	pc.stateMu.Lock()
	pc.callbackMu = nil
	pc.callbackOwned = false
	pc.stateMu.Unlock()
}

func (pc *PortCore) lockCallback() {
	pc.stateMu.Lock()
	mu := pc.callbackMu
	pc.stateMu.Unlock()
	if mu != nil {
		mu.Lock()
	}
}

func (pc *PortCore) unlockCallback() {
	pc.stateMu.Lock()
	mu := pc.callbackMu
	pc.stateMu.Unlock()
	if mu != nil {
		mu.Unlock()
	}
}

// ============================================================================
//                              信封与类型
// ============================================================================

// SetEnvelope 设置随行信封
//
// 信封限定为可打印 ASCII：在第一个控制字符处截断。
func (pc *PortCore) SetEnvelope(envelope string) {
	for i := 0; i < len(envelope); i++ {
		if envelope[i] < 0x20 {
			envelope = envelope[:i]
			break
		}
	}
	pc.stateMu.Lock()
	pc.envelope = envelope
	pc.stateMu.Unlock()
	logger.Debug("设置信封", "envelope", envelope)
}

// GetEnvelope 读取随行信封
func (pc *PortCore) GetEnvelope() string {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.envelope
}

// PromiseType 声明负载类型
func (pc *PortCore) PromiseType(typ string) {
	pc.typeMu.Lock()
	pc.payloadType = typ
	pc.checkedType = true
	pc.typeMu.Unlock()
}

// CheckType 惰性记录第一次观察到的负载类型
func (pc *PortCore) CheckType(typ string) {
	pc.typeMu.Lock()
	if !pc.checkedType {
		if pc.payloadType == "" {
			pc.payloadType = typ
		}
		pc.checkedType = true
	}
	pc.typeMu.Unlock()
}

// PayloadType 读取声明的负载类型
func (pc *PortCore) PayloadType() string {
	pc.typeMu.Lock()
	defer pc.typeMu.Unlock()
	return pc.payloadType
}

// ============================================================================
//                              属性表
// ============================================================================

// acquireProperties 取属性表（持有控制面锁返回）
func (pc *PortCore) acquireProperties(readOnly bool) *types.Property {
	pc.stateMu.Lock()
	if !readOnly && pc.prop == nil {
		pc.prop = types.NewProperty()
	}
	return pc.prop
}

// releaseProperties 释放属性表
func (pc *PortCore) releaseProperties() {
	pc.stateMu.Unlock()
}

// ============================================================================
//                              生命周期
// ============================================================================

// Listen 绑定监听端点
//
// 同名端口已在监听或传输无法绑定时失败。announce 为真且
// 运行时不在局部模式时，向名字服务宣告上线。
func (pc *PortCore) Listen(address types.Contact, announce bool) error {
	pc.stateMu.Lock()

	if pc.state != types.StateIdle {
		pc.stateMu.Unlock()
		return ErrAlreadyListening
	}

	pc.address = address
	pc.name = address.Name
	if pc.config.Timeout > 0 {
		pc.address.Timeout = pc.config.Timeout
	}
	bindAddr := pc.address
	pc.stateMu.Unlock()

	face, err := pc.carriers.Listen(bindAddr)
	if err != nil {
		logger.Warn("监听失败", "name", address.Name, "error", err)
		return err
	}

	pc.stateMu.Lock()
	// 补全自动分配的地址；占位名从 host+port 生成
	local := face.LocalAddress()
	if pc.address.Port <= 0 {
		pc.address.Host = local.Host
		pc.address.Port = local.Port
	}
	if pc.address.Name == types.AutoName {
		pc.address.Name = pc.address.AutoAssignedName()
		pc.name = pc.address.Name
	}
	pc.face = face
	pc.state = types.StateListening
	name := pc.name
	pc.stateMu.Unlock()

	logger.Info("端口进入监听", "name", name, "addr", local.URI())

	if announce {
		bypass := pc.names.QueryBypass()
		if !(pc.names.LocalMode() && bypass == nil) {
			if err := pc.names.Announce(name); err != nil {
				logger.Warn("宣告上线失败", "name", name, "error", err)
			}
		}
	}
	return nil
}

// Start 启动监听循环
//
// 阻塞到监听循环确认开始接受连接（控制信号量会合）。
// 循环启动失败时返回错误并停留在 Listening。
func (pc *PortCore) Start() error {
	pc.stateMu.Lock()
	if pc.state != types.StateListening || pc.starting {
		pc.stateMu.Unlock()
		return ErrNotListening
	}
	pc.starting = true
	started := make(chan struct{})
	pc.listenerDone = make(chan struct{})
	go pc.run(started)
	pc.stateMu.Unlock()

	// 与监听循环会合；慢启动只告警，不放弃
	watchdog := pc.clock.Timer(startWatchdog)
	select {
	case <-started:
		watchdog.Stop()
	case <-watchdog.C:
		logger.Warn("监听循环迟迟未确认启动", "name", pc.Name())
		<-started
	}
	return nil
}

// startWatchdog 启动会合的告警阈值
const startWatchdog = 5 * time.Second

// ManualStart 进入只写模式
//
// 不启动监听循环，不接受任何入站；端口仍持有输出单元、
// 仍可程序内发起管理调用。
func (pc *PortCore) ManualStart(sourceName string) error {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.state == types.StateRunning {
		return ErrPortRunning
	}
	pc.interruptible = false
	pc.state = types.StateManual
	pc.name = sourceName
	return nil
}

// Resume 清除中断态
func (pc *PortCore) Resume() {
	pc.stateMu.Lock()
	pc.interrupted = false
	pc.stateMu.Unlock()
}

// Interrupt 进入中断态
//
// 若装有用户回调且端口当前可中断，投递一次合成空读，
// 给阻塞中的读取者观察标志的机会。
func (pc *PortCore) Interrupt() {
	pc.stateMu.Lock()
	if pc.state != types.StateListening && pc.state != types.StateRunning {
		pc.stateMu.Unlock()
		return
	}
	pc.interrupted = true
	interruptible := pc.interruptible
	reader := pc.reader
	pc.stateMu.Unlock()

	if !interruptible || reader == nil {
		return
	}

	logger.Debug("向读取者投递状态更新空读", "name", pc.Name())
	pc.lockCallback()
	reader.Read(emptyReader{})
	pc.unlockCallback()
}

// Close 幂等关闭
func (pc *PortCore) Close() error {
	pc.closeMain()

	pc.stateMu.Lock()
	pc.prop = nil
	pc.stateMu.Unlock()

	return multierr.Combine(
		pc.modifier.releaseIn(),
		pc.modifier.releaseOut(),
	)
}

// closeMain 有序关闭主流程
//
// 先请求对端拆除入站，再硬拆本端出站，然后停监听循环、
// 清空单元表、关监听端点、投递终端空读、按需注销名字。
func (pc *PortCore) closeMain() {
	pc.stateMu.Lock()

	// 没有事可做：已在收尾，或从未 Running/Manual
	if pc.finishing || !(pc.state == types.StateRunning || pc.state == types.StateManual) {
		// 仍可能持有监听端点（Listen 后未 Start 即关闭）
		face := pc.face
		listening := pc.state == types.StateListening
		if listening {
			pc.face = nil
			pc.state = types.StateIdle
		}
		pc.stateMu.Unlock()
		if listening && face != nil {
			_ = face.Close()
		}
		return
	}

	pc.finishing = true
	pc.stateMu.Unlock()
	logger.Debug("开始关闭端口", "name", pc.Name())

	// 第一阶段：请求对端拆除入站连接。对端可能还要和本端
	// 监听循环对话来协商拆除细节，所以循环此时仍在运行。
	prevName := ""
	for {
		removeName := ""
		pc.stateMu.Lock()
		for _, u := range pc.units {
			if u == nil || u.Direction() != types.DirInput || u.IsDoomed() {
				continue
			}
			from := u.Route().From
			if len(from) >= 1 && strings.HasPrefix(from, "/") && from != pc.name && from != prevName {
				removeName = from
				break
			}
		}
		pc.stateMu.Unlock()
		if removeName == "" {
			break
		}
		logger.Debug("请求对端拆除入站", "from", removeName)
		if err := pc.names.Disconnect(removeName, pc.Name()); err != nil {
			// 反向兜底；失败也继续，终止条件是没有匹配单元
			_ = pc.names.DisconnectInput(pc.Name(), removeName)
		}
		prevName = removeName
	}

	// 第二阶段：硬拆本端发起的出站连接，不与对端协商
	for {
		var removeRoute types.Route
		found := false
		pc.stateMu.Lock()
		for _, u := range pc.units {
			if u == nil || u.Direction() != types.DirOutput || u.IsFinished() {
				continue
			}
			r := u.Route()
			if r.From == pc.name {
				removeRoute = r
				found = true
				break
			}
		}
		pc.stateMu.Unlock()
		if !found {
			break
		}
		pc.removeUnit(removeRoute, true, nil)
	}

	pc.stateMu.Lock()
	stopRunning := pc.state == types.StateRunning
	manual := pc.state == types.StateManual
	pc.stateMu.Unlock()

	if stopRunning {
		// 让监听循环退出：设置关闭标志并自连一次解除 accept 阻塞
		pc.stateMu.Lock()
		pc.closing = true
		pc.state = types.StateClosing
		face := pc.face
		addr := pc.address
		listenerDone := pc.listenerDone
		pc.stateMu.Unlock()

		if face != nil {
			if op, err := face.Write(addr); err == nil {
				_ = op.Close()
			}
		}
		if listenerDone != nil {
			<-listenerDone
		}

		pc.closeUnits()

		pc.stateMu.Lock()
		pc.closing = false
		pc.state = types.StateIdle
		pc.stateMu.Unlock()
	}

	if manual {
		pc.closeUnits()
		pc.stateMu.Lock()
		pc.state = types.StateIdle
		pc.stateMu.Unlock()
	}

	// 关监听端点
	pc.stateMu.Lock()
	face := pc.face
	pc.face = nil
	reader := pc.reader
	pc.reader = nil
	name := pc.name
	pc.stateMu.Unlock()

	if face != nil {
		_ = face.Close()
	}

	// 终端空读：给阻塞中的读取者送去坏消息
	if reader != nil {
		logger.Debug("向读取者投递端口结束空读", "name", name)
		reader.Read(emptyReader{})
	}

	// 注销名字
	if stopRunning && name != "" && pc.config.ControlRegistration {
		if err := pc.names.UnregisterName(name); err != nil {
			logger.Warn("注销名字失败", "name", name, "error", err)
		}
	}

	pc.stateMu.Lock()
	pc.finishing = false
	pc.interrupted = false
	pc.stateMu.Unlock()
	logger.Info("端口已关闭", "name", name)
}

// emptyReader 合成的空读视图
type emptyReader struct{}

var _ ifc.ConnectionReader = emptyReader{}

func (emptyReader) ReadBottle() (*types.Bottle, error) { return types.NewBottle(), nil }
func (emptyReader) Route() types.Route                 { return types.Route{} }
func (emptyReader) Envelope() string                   { return "" }
func (emptyReader) IsEmpty() bool                      { return true }
func (emptyReader) ReplyWriter() ifc.ReplyWriter       { return nil }
func (emptyReader) RequestDrop()                       {}
