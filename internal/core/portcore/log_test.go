package portcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-port/pkg/types"
)

// 日志连接：带 log 修饰符的输出单元只接收记录流量，
// 普通扇出绕开它们。

func TestLogModeParsing(t *testing.T) {
	tests := []struct {
		carrier string
		want    string
	}{
		{"tcp", ""},
		{"tcp+log.in", "in"},
		{"local+log.in", "in"},
		{"tcp+log.out+extra", "out"},
		{"rostcp+role.pub", ""},
	}

	for _, tt := range tests {
		if got := logModeOf(tt.carrier); got != tt.want {
			t.Errorf("logModeOf(%q) = %q, want %q", tt.carrier, got, tt.want)
		}
	}
}

func TestLogConnectionRecordsTraffic(t *testing.T) {
	env := newTestEnv(t)

	// /log-sink 收记录；/mon 是被观察的端口
	sink := &captureReader{}
	env.newPort(t, "/log-sink", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(sink))
	})

	seen := &captureReader{}
	mon := env.newPort(t, "/mon", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(seen))
	})

	var d Diag
	require.True(t, mon.AddOutput("local+log.in:/log-sink", &d, false))
	assert.Contains(t, d.String(), "will forward messages and replies")

	// 日志输出不算数据输出
	assert.Equal(t, 1, mon.GetOutputCount())
	assert.Equal(t, 0, mon.DataOutputCount())

	// 等记录路径开闸（日志单元上线时置位）
	require.Eventually(t, func() bool {
		mon.stateMu.Lock()
		defer mon.stateMu.Unlock()
		return mon.logNeeded
	}, time.Second, 5*time.Millisecond)

	// 从第三方端口发数据给 /mon
	src := env.newPort(t, "/talker", nil)
	require.True(t, src.AddOutput("/mon", &d, false))

	msg := types.NewBottle()
	msg.AddString("observed")
	require.True(t, src.Send(BottleMessage(msg), nil, nil))

	// 用户回调收到原始数据
	require.Eventually(t, func() bool { return seen.count() == 1 }, time.Second, 5*time.Millisecond)

	// 日志端口收到记录：(请求, (应答...))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	transcript := sink.frames[0]
	sink.mu.Unlock()
	request := transcript.Get(0).AsList()
	require.NotNil(t, request)
	assert.Equal(t, "observed", request.Get(0).AsString())
}

func TestLogRejectsUnsupportedMode(t *testing.T) {
	env := newTestEnv(t)
	env.newPort(t, "/lo-b", nil)
	mon := env.newPort(t, "/lo-a", nil)

	var d Diag
	assert.False(t, mon.AddOutput("local+log.out:/lo-b", &d, false))
	assert.Contains(t, d.String(), "only log.in is supported")
	assert.Equal(t, 0, mon.GetOutputCount())
}

func TestNormalSendSkipsLoggers(t *testing.T) {
	env := newTestEnv(t)

	logReader := &captureReader{}
	env.newPort(t, "/skip-log", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(logReader))
	})
	dataReader := &captureReader{}
	env.newPort(t, "/skip-data", func(pc *PortCore) {
		require.NoError(t, pc.SetReader(dataReader))
	})
	a := env.newPort(t, "/skip-a", nil)

	var d Diag
	require.True(t, a.AddOutput("local+log.in:/skip-log", &d, false))
	require.True(t, a.AddOutput("/skip-data", &d, false))

	msg := types.NewBottle()
	msg.AddString("data only")
	require.True(t, a.Send(BottleMessage(msg), nil, nil))

	require.Eventually(t, func() bool { return dataReader.count() == 1 }, time.Second, 5*time.Millisecond)
	// 普通发送不经过日志连接
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, logReader.count())
}
