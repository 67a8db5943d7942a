package carrier

import (
	"go.uber.org/fx"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
)

// Module 载体注册表 Fx 模块
var Module = fx.Module("carrier",
	fx.Provide(
		provideRegistry,
	),
)

// RegistryOutput 注册表模块输出
type RegistryOutput struct {
	fx.Out

	Registry ifc.CarrierRegistry
}

func provideRegistry() RegistryOutput {
	return RegistryOutput{Registry: NewDefaultRegistry()}
}
