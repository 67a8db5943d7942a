package portcore

import (
	"time"

	"github.com/benbjohnson/clock"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// Config 端口引擎配置
type Config struct {
	// Timeout 连接读写超时，0 表示不限
	Timeout time.Duration

	// Flags 端口能力标志
	Flags types.PortFlag

	// WaitBeforeSend 发送前等待上一条消息离队
	WaitBeforeSend bool

	// WaitAfterSend 发送阻塞到本条消息写完
	WaitAfterSend bool

	// ControlRegistration 关闭时是否向名字服务注销
	ControlRegistration bool

	// ROSCompat 启用 ROS 兼容管理指令
	ROSCompat bool

	// AcceptErrorRate 监听循环瞬态错误的重试速率（次/秒）
	AcceptErrorRate float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:             0,
		Flags:               types.FlagInput | types.FlagOutput,
		WaitBeforeSend:      true,
		WaitAfterSend:       true,
		ControlRegistration: true,
		ROSCompat:           false,
		AcceptErrorRate:     10,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrInvalidConfig
	}
	if c.AcceptErrorRate <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Option 引擎选项函数
type Option func(*PortCore) error

// WithConfig 设置配置
func WithConfig(config *Config) Option {
	return func(pc *PortCore) error {
		if config == nil {
			return ErrInvalidConfig
		}
		if err := config.Validate(); err != nil {
			return err
		}
		pc.config = config
		return nil
	}
}

// WithFlags 设置端口能力标志
func WithFlags(flags types.PortFlag) Option {
	return func(pc *PortCore) error {
		pc.config.Flags = flags
		return nil
	}
}

// WithClock 替换时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(pc *PortCore) error {
		if clk == nil {
			return ErrInvalidConfig
		}
		pc.clock = clk
		return nil
	}
}

// WithReporter 安装事件上报通道
func WithReporter(r ifc.Reporter) Option {
	return func(pc *PortCore) error {
		pc.reporter = r
		return nil
	}
}

// WithModifierFactory 安装修饰器工厂
//
// atch 管理指令通过工厂实例化修饰器；未安装时 atch 失败。
func WithModifierFactory(f ifc.ModifierFactory) Option {
	return func(pc *PortCore) error {
		pc.modifierFactory = f
		return nil
	}
}

// WithInstruments 安装度量挂钩
func WithInstruments(ins Instruments) Option {
	return func(pc *PortCore) error {
		pc.instruments = ins
		return nil
	}
}

// Instruments 引擎度量挂钩
//
// 由 internal/core/metrics 提供 prometheus 实现；
// 不安装时引擎零开销跳过。
type Instruments interface {
	// UnitAdded 新单元注册
	UnitAdded(direction types.Direction)

	// UnitRemoved 单元被回收
	UnitRemoved(direction types.Direction)

	// SendObserved 一次扇出发送完成
	SendObserved(mode types.SendMode, fanout int)

	// AdminObserved 一条管理指令被处理
	AdminObserved(verb string)

	// PacketsInFlight 在途追踪包数量变化
	PacketsInFlight(n int)
}
