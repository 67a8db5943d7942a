package nameclient

import (
	"go.uber.org/fx"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
)

// Module 名字服务客户端 Fx 模块
var Module = fx.Module("nameclient",
	fx.Provide(
		provideClient,
	),
)

// Params 客户端依赖参数
type Params struct {
	fx.In

	Carriers ifc.CarrierRegistry
	Bypass   ifc.NameService `name:"bypass" optional:"true"`
}

// Output 客户端模块输出
type Output struct {
	fx.Out

	Names ifc.NameService
}

func provideClient(params Params) Output {
	opts := []Option{WithCarriers(params.Carriers)}
	if params.Bypass != nil {
		opts = append(opts, WithBypass(params.Bypass))
	}
	return Output{Names: New(opts...)}
}
