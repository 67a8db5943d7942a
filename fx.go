package goport

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-port/internal/core/carrier"
	"github.com/dep2p/go-port/internal/core/metrics"
	"github.com/dep2p/go-port/internal/core/nameclient"
	"github.com/dep2p/go-port/internal/core/portcore"
)

// Modules 全部核心组件的 Fx 装配
//
// 载体注册表、名字服务、度量与端口工厂。
var Modules = fx.Options(
	carrier.Module,
	nameclient.Module,
	metrics.Module,
	portcore.Module,
)

// NewApp 组装一个带全部核心组件的 Fx 应用
//
// 额外的模块与调用通过 opts 注入：
//
//	app := goport.NewApp(
//		fx.Invoke(func(f *portcore.Factory) { ... }),
//	)
func NewApp(opts ...fx.Option) *fx.App {
	all := append([]fx.Option{
		Modules,
		fx.NopLogger,
	}, opts...)
	return fx.New(all...)
}
