package goport

import (
	"github.com/dep2p/go-port/config"
	"github.com/dep2p/go-port/internal/core/carrier"
	"github.com/dep2p/go-port/internal/core/nameclient"
	"github.com/dep2p/go-port/internal/core/portcore"
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/lib/log"
	"github.com/dep2p/go-port/pkg/types"
)

var logger = log.Logger("goport")

// Port 面向用户的端口
//
// 包一层引擎，把载体注册表与名字服务装配进去。
type Port struct {
	core *portcore.PortCore

	carriers ifc.CarrierRegistry
	names    ifc.NameService
	cfg      *config.Config

	coreOpts []portcore.Option
}

// New 创建端口
//
// 未注入依赖时使用内建载体全家桶和局部模式名字服务。
func New(opts ...Option) (*Port, error) {
	p := &Port{
		cfg: config.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.carriers == nil {
		p.carriers = carrier.NewDefaultRegistry()
	}
	if p.names == nil {
		p.names = nameclient.New(nameclient.WithCarriers(p.carriers))
	}

	coreCfg := portcore.DefaultConfig()
	coreCfg.Timeout = p.cfg.Port.Timeout.Duration()
	coreCfg.ROSCompat = p.cfg.Port.ROSCompat
	coreCfg.WaitBeforeSend = p.cfg.Port.WaitBeforeSend
	coreCfg.WaitAfterSend = p.cfg.Port.WaitAfterSend

	coreOpts := append([]portcore.Option{portcore.WithConfig(coreCfg)}, p.coreOpts...)
	core, err := portcore.NewPortCore(p.carriers, p.names, coreOpts...)
	if err != nil {
		return nil, err
	}
	p.core = core
	return p, nil
}

// Core 暴露引擎（测试与高级用法）
func (p *Port) Core() *portcore.PortCore { return p.core }

// Open 上网：绑定、登记、启动监听循环
//
// name 为 "/..." 时监听成功后自动命名。
func (p *Port) Open(name string) error {
	contact := types.Contact{
		Name:    name,
		Carrier: p.cfg.Port.DefaultCarrier,
	}
	if err := p.core.Listen(contact, false); err != nil {
		return err
	}

	registered, err := p.names.Register(p.core.Name(), p.core.Address())
	if err != nil {
		_ = p.core.Close()
		return err
	}
	if registered.Name != p.core.Name() {
		logger.Debug("名字服务改写端口名", "name", registered.Name)
		p.core.ResetPortName(registered.Name)
	}

	if err := p.core.Start(); err != nil {
		_ = p.core.Close()
		return err
	}
	logger.Info("端口上线", "name", p.core.Name(), "addr", p.core.Address().URI())
	return nil
}

// OpenWriteOnly 只写模式上网（不监听）
func (p *Port) OpenWriteOnly(name string) error {
	return p.core.ManualStart(name)
}

// Name 端口注册名
func (p *Port) Name() string { return p.core.Name() }

// SetReader 安装数据回调（启动前）
func (p *Port) SetReader(r ifc.Reader) error { return p.core.SetReader(r) }

// SetAdminReader 安装管理兜底回调（启动前）
func (p *Port) SetAdminReader(r ifc.Reader) error { return p.core.SetAdminReader(r) }

// SetReaderCreator 安装回调工厂（启动前）
func (p *Port) SetReaderCreator(c ifc.ReaderCreator) error { return p.core.SetReaderCreator(c) }

// AddOutput 建立到 dest 的连接
func (p *Port) AddOutput(dest string) error {
	var d portcore.Diag
	if !p.core.AddOutput(dest, &d, false) {
		return &ConnectError{Dest: dest, Detail: d.String()}
	}
	return nil
}

// AddOutputIfNeeded 仅在必要时建立连接
//
// 已存在载体相符的连接时不再新建。
func (p *Port) AddOutputIfNeeded(dest string) error {
	var d portcore.Diag
	if !p.core.AddOutput(dest, &d, true) {
		return &ConnectError{Dest: dest, Detail: d.String()}
	}
	return nil
}

// RemoveOutput 拆除到 dest 的连接
func (p *Port) RemoveOutput(dest string) {
	var d portcore.Diag
	p.core.RemoveOutput(dest, &d)
}

// RemoveInput 拆除来自 src 的连接
func (p *Port) RemoveInput(src string) {
	var d portcore.Diag
	p.core.RemoveInput(src, &d)
}

// WriteBottle 扇出发送一个瓶装消息
func (p *Port) WriteBottle(b *types.Bottle) bool {
	return p.core.Send(portcore.BottleMessage(b), nil, nil)
}

// WriteBottleWithReply 发送并等待应答（RPC）
func (p *Port) WriteBottleWithReply(b *types.Bottle, reader ifc.Reader) bool {
	return p.core.Send(portcore.BottleMessage(b), reader, nil)
}

// SetEnvelope 设置随行信封
func (p *Port) SetEnvelope(envelope string) { p.core.SetEnvelope(envelope) }

// GetEnvelope 读取随行信封
func (p *Port) GetEnvelope() string { return p.core.GetEnvelope() }

// Interrupt 中断阻塞中的读取者
func (p *Port) Interrupt() { p.core.Interrupt() }

// Resume 清除中断态
func (p *Port) Resume() { p.core.Resume() }

// Describe 上报端口现状
func (p *Port) Describe(reporter ifc.Reporter) { p.core.Describe(reporter) }

// Close 幂等关闭
func (p *Port) Close() error { return p.core.Close() }
