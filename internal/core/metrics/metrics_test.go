package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-port/pkg/types"
)

func TestInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	ins, err := New(reg)
	require.NoError(t, err)

	ins.UnitAdded(types.DirInput)
	ins.UnitAdded(types.DirOutput)
	ins.UnitAdded(types.DirOutput)
	ins.UnitRemoved(types.DirOutput)

	assert.Equal(t, 1.0, testutil.ToFloat64(ins.units.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ins.units.WithLabelValues("output")))

	ins.SendObserved(types.SendNormal, 3)
	ins.SendObserved(types.SendLog, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(ins.sends.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ins.sends.WithLabelValues("log")))

	ins.AdminObserved("help")
	ins.AdminObserved("help")
	assert.Equal(t, 2.0, testutil.ToFloat64(ins.adminCommands.WithLabelValues("help")))

	ins.PacketsInFlight(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(ins.packets))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
