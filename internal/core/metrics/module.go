package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-port/internal/core/portcore"
)

// Module 度量 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(
		provideInstruments,
	),
)

// Params 度量依赖参数
type Params struct {
	fx.In

	Registerer prometheus.Registerer `optional:"true"`
}

// Output 度量模块输出
type Output struct {
	fx.Out

	Instruments portcore.Instruments
}

func provideInstruments(params Params) (Output, error) {
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ins, err := New(reg)
	if err != nil {
		return Output{}, err
	}
	return Output{Instruments: ins}, nil
}
