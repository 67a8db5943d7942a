package portcore

import (
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// bottleMessage 瓶装消息的可发送适配
type bottleMessage struct {
	b *types.Bottle
}

var _ ifc.Writer = bottleMessage{}

// BottleMessage 把瓶装消息适配成可发送对象
func BottleMessage(b *types.Bottle) ifc.Writer {
	return bottleMessage{b: b}
}

// ToBottle 渲染为瓶装消息
func (m bottleMessage) ToBottle() *types.Bottle { return m.b }
