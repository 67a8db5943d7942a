// Package metrics 提供端口引擎的 prometheus 度量
//
// 实现 portcore.Instruments 挂钩：单元数、发送数、
// 管理指令数与在途追踪包数。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-port/internal/core/portcore"
	"github.com/dep2p/go-port/pkg/types"
)

// Instruments prometheus 度量实现
type Instruments struct {
	units         *prometheus.GaugeVec
	sends         *prometheus.CounterVec
	adminCommands *prometheus.CounterVec
	packets       prometheus.Gauge
}

var _ portcore.Instruments = (*Instruments)(nil)

// New 创建并注册度量
func New(reg prometheus.Registerer) (*Instruments, error) {
	ins := &Instruments{
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goport",
			Name:      "port_units",
			Help:      "Active connection units by direction.",
		}, []string{"direction"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goport",
			Name:      "port_sends_total",
			Help:      "Fan-out sends by mode.",
		}, []string{"mode"}),
		adminCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goport",
			Name:      "port_admin_commands_total",
			Help:      "Administrative commands by verb.",
		}, []string{"verb"}),
		packets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goport",
			Name:      "port_packets_in_flight",
			Help:      "Tracked packets currently in flight.",
		}),
	}

	for _, c := range []prometheus.Collector{ins.units, ins.sends, ins.adminCommands, ins.packets} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return ins, nil
}

// UnitAdded 新单元注册
func (m *Instruments) UnitAdded(direction types.Direction) {
	m.units.WithLabelValues(direction.String()).Inc()
}

// UnitRemoved 单元被回收
func (m *Instruments) UnitRemoved(direction types.Direction) {
	m.units.WithLabelValues(direction.String()).Dec()
}

// SendObserved 一次扇出发送完成
func (m *Instruments) SendObserved(mode types.SendMode, fanout int) {
	label := "normal"
	if mode == types.SendLog {
		label = "log"
	}
	m.sends.WithLabelValues(label).Add(float64(max(fanout, 1)))
}

// AdminObserved 一条管理指令被处理
func (m *Instruments) AdminObserved(verb string) {
	m.adminCommands.WithLabelValues(verb).Inc()
}

// PacketsInFlight 在途追踪包数量变化
func (m *Instruments) PacketsInFlight(n int) {
	m.packets.Set(float64(n))
}
