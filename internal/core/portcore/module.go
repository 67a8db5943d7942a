package portcore

import (
	"go.uber.org/fx"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
)

// Module PortCore Fx 模块
//
// 端口是多实例对象，这里提供的是工厂。
var Module = fx.Module("portcore",
	fx.Provide(
		provideFactory,
	),
)

// Params 工厂依赖参数
type Params struct {
	fx.In

	Carriers ifc.CarrierRegistry
	Names    ifc.NameService

	Instruments Instruments `optional:"true"`
}

// Factory 端口引擎工厂
//
// 把注册表、名字服务和度量挂钩一次性注入，
// 之后每次 New 造一个独立端口。
type Factory struct {
	carriers    ifc.CarrierRegistry
	names       ifc.NameService
	instruments Instruments
}

func provideFactory(params Params) *Factory {
	return &Factory{
		carriers:    params.Carriers,
		names:       params.Names,
		instruments: params.Instruments,
	}
}

// NewFactory 不经 Fx 直接创建工厂
func NewFactory(carriers ifc.CarrierRegistry, names ifc.NameService) *Factory {
	return &Factory{carriers: carriers, names: names}
}

// New 创建一个端口引擎
func (f *Factory) New(opts ...Option) (*PortCore, error) {
	all := opts
	if f.instruments != nil {
		all = append([]Option{WithInstruments(f.instruments)}, opts...)
	}
	return NewPortCore(f.carriers, f.names, all...)
}
