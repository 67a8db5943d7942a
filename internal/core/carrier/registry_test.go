package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-port/pkg/types"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"tcp", "tcp"},
		{"tcp+log.in", "tcp"},
		{"rostcp+role.pub+topic./chat", "rostcp"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := BaseName(tt.input); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRegistryChoose(t *testing.T) {
	r := NewDefaultRegistry()

	c, err := r.Choose("tcp")
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Name())

	// 修饰符不影响模板查找
	c, err = r.Choose("tcp+log.in")
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Name())

	// 空名用默认载体
	c, err = r.Choose("")
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Name())

	_, err = r.Choose("carrier-from-mars")
	assert.ErrorIs(t, err, ErrUnknownCarrier)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTCP()))
	assert.ErrorIs(t, r.Register(NewTCP()), ErrDuplicateCarrier)
}

func TestLocalRoundTrip(t *testing.T) {
	local := NewLocal()

	face, err := local.Listen(types.Contact{Name: "/echo"})
	require.NoError(t, err)
	defer face.Close()

	addr := face.LocalAddress()
	assert.Equal(t, "local", addr.Carrier)
	assert.Positive(t, addr.Port)

	// 拨号方
	done := make(chan error, 1)
	go func() {
		out, err := local.Connect(addr)
		if err != nil {
			done <- err
			return
		}
		defer out.Close()
		if err := out.Open(types.NewRoute("/client", "/echo", "local")); err != nil {
			done <- err
			return
		}
		msg := types.NewBottle()
		msg.AddString("hello")
		done <- out.WriteFrame(msg, "stamp-1", false)
	}()

	// 接收方
	in, err := face.Read()
	require.NoError(t, err)
	defer in.Close()

	route, err := in.Open()
	require.NoError(t, err)
	assert.Equal(t, "/client", route.From)
	assert.Equal(t, "/echo", route.To)

	frame, err := in.ReadFrame()
	require.NoError(t, err)
	assert.False(t, frame.Admin)
	assert.Equal(t, "hello", frame.Body.Get(0).AsString())
	assert.Equal(t, "stamp-1", frame.Envelope)

	require.NoError(t, <-done)
}

func TestTCPRoundTripWithReply(t *testing.T) {
	tcp := NewTCP()

	face, err := tcp.Listen(types.Contact{Name: "/srv", Host: "127.0.0.1"})
	require.NoError(t, err)
	defer face.Close()

	go func() {
		in, err := face.Read()
		if err != nil {
			return
		}
		defer in.Close()
		if _, err := in.Open(); err != nil {
			return
		}
		frame, err := in.ReadFrame()
		if err != nil || !frame.Admin {
			return
		}
		reply := types.NewBottle()
		reply.AddVocab("ok")
		_ = in.WriteReply(reply)
	}()

	out, err := tcp.Connect(face.LocalAddress())
	require.NoError(t, err)
	defer out.Close()

	require.NoError(t, out.Open(types.NewRoute("/cli", "/srv", "tcp")))

	cmd := types.NewBottle()
	cmd.AddVocab("ver")
	require.NoError(t, out.WriteFrame(cmd, "", true))

	reply, err := out.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, types.Vocab("ok"), reply.Get(0).AsVocab())
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "/chat", topicOf("rostcp+role.pub+topic./chat"))
	assert.Equal(t, "/", topicOf("rostcp"))
}
