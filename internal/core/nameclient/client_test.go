package nameclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-port/pkg/types"
)

func TestRegisterQueryUnregister(t *testing.T) {
	c := New()

	contact, err := c.Register("/a", types.Contact{Host: "127.0.0.1", Port: 9001, Carrier: "tcp"})
	require.NoError(t, err)
	assert.Equal(t, "/a", contact.Name)

	got, err := c.QueryName("/a")
	require.NoError(t, err)
	assert.Equal(t, 9001, got.Port)

	require.NoError(t, c.UnregisterName("/a"))
	// 注册表与缓存都应清掉
	_, err = c.QueryName("/a")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterAutoName(t *testing.T) {
	c := New()

	contact, err := c.Register(types.AutoName, types.Contact{Host: "h", Port: 1})
	require.NoError(t, err)
	assert.NotEqual(t, types.AutoName, contact.Name)
	assert.NotEmpty(t, contact.Name)

	again, err := c.Register(types.AutoName, types.Contact{Host: "h", Port: 2})
	require.NoError(t, err)
	assert.NotEqual(t, contact.Name, again.Name)
}

func TestWriteToNameServer(t *testing.T) {
	c := New()
	_, err := c.Register("/a", types.Contact{Host: "h", Port: 1, Carrier: "local"})
	require.NoError(t, err)

	cmd := types.NewBottle()
	cmd.AddString("query")
	cmd.AddString("/a")
	reply, err := c.WriteToNameServer(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/a", reply.Get(0).AsString())
	assert.Equal(t, int32(1), reply.Get(2).AsInt32())

	cmd = types.NewBottle()
	cmd.AddString("announce")
	cmd.AddString("/a")
	reply, err = c.WriteToNameServer(cmd)
	require.NoError(t, err)
	assert.Equal(t, types.Vocab("ok"), reply.Get(0).AsVocab())

	cmd = types.NewBottle()
	cmd.AddString("no-such-verb")
	_, err = c.WriteToNameServer(cmd)
	assert.ErrorIs(t, err, ErrBadCommand)
}

func TestLocalMode(t *testing.T) {
	c := New()
	assert.True(t, c.LocalMode())
	assert.Nil(t, c.QueryBypass())
}

type fixedBypass struct {
	Client
	contact types.Contact
}

func (f *fixedBypass) QueryName(string) (types.Contact, error) {
	return f.contact, nil
}

func TestQueryBypass(t *testing.T) {
	bypass := &fixedBypass{contact: types.Contact{Name: "/x", Host: "bypass", Port: 7, Carrier: "tcp"}}
	c := New(WithBypass(bypass))

	got, err := c.QueryName("/anything")
	require.NoError(t, err)
	assert.Equal(t, "bypass", got.Host)
}
