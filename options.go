package goport

import (
	"errors"
	"time"

	"github.com/dep2p/go-port/config"
	"github.com/dep2p/go-port/internal/core/portcore"
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// Option 端口选项
type Option func(*Port) error

// WithConfig 整体替换统一配置
func WithConfig(cfg *config.Config) Option {
	return func(p *Port) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		p.cfg = cfg
		return nil
	}
}

// WithCarriers 注入载体注册表
func WithCarriers(carriers ifc.CarrierRegistry) Option {
	return func(p *Port) error {
		p.carriers = carriers
		return nil
	}
}

// WithNames 注入名字服务
func WithNames(names ifc.NameService) Option {
	return func(p *Port) error {
		p.names = names
		return nil
	}
}

// WithFlags 设置端口能力标志
func WithFlags(flags types.PortFlag) Option {
	return func(p *Port) error {
		p.coreOpts = append(p.coreOpts, portcore.WithFlags(flags))
		return nil
	}
}

// WithRPC 便捷选项：RPC 端口（至多一个数据输出）
func WithRPC() Option {
	return WithFlags(types.FlagInput | types.FlagOutput | types.FlagRPC)
}

// WithTimeout 设置连接读写超时
func WithTimeout(d time.Duration) Option {
	return func(p *Port) error {
		p.cfg.Port.Timeout = config.Duration(d)
		return nil
	}
}

// WithDefaultCarrier 设置默认载体
func WithDefaultCarrier(name string) Option {
	return func(p *Port) error {
		p.cfg.Port.DefaultCarrier = name
		return nil
	}
}

// WithROSCompat 启用 ROS 兼容管理指令
func WithROSCompat() Option {
	return func(p *Port) error {
		p.cfg.Port.ROSCompat = true
		return nil
	}
}

// WithReporter 安装事件上报通道
func WithReporter(r ifc.Reporter) Option {
	return func(p *Port) error {
		p.coreOpts = append(p.coreOpts, portcore.WithReporter(r))
		return nil
	}
}

// WithModifierFactory 安装修饰器工厂
func WithModifierFactory(f ifc.ModifierFactory) Option {
	return func(p *Port) error {
		p.coreOpts = append(p.coreOpts, portcore.WithModifierFactory(f))
		return nil
	}
}

// WithCoreOptions 透传引擎级选项
func WithCoreOptions(opts ...portcore.Option) Option {
	return func(p *Port) error {
		p.coreOpts = append(p.coreOpts, opts...)
		return nil
	}
}
