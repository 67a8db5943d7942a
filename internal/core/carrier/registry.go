package carrier

import (
	"fmt"
	"strings"
	"sync"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/lib/log"
	"github.com/dep2p/go-port/pkg/types"
)

var logger = log.Logger("core/carrier")

// Registry 载体注册表
type Registry struct {
	mu       sync.RWMutex
	carriers map[string]ifc.Carrier

	// defaultName 地址未指明载体时的默认选择
	defaultName string
}

var _ ifc.CarrierRegistry = (*Registry)(nil)

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		carriers:    make(map[string]ifc.Carrier),
		defaultName: "tcp",
	}
}

// NewDefaultRegistry 创建带全部内建载体的注册表
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NewTCP())
	_ = r.Register(NewLocal())
	_ = r.Register(NewText())
	_ = r.Register(NewWS())
	_ = r.Register(NewROSTCP())
	return r
}

// BaseName 去掉载体名中的修饰符
//
// "tcp+log.in" → "tcp"。
func BaseName(name string) string {
	if idx := strings.IndexByte(name, '+'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Register 注册载体模板
func (r *Registry) Register(c ifc.Carrier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.carriers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCarrier, name)
	}
	r.carriers[name] = c
	logger.Debug("注册载体", "name", name)
	return nil
}

// Get 按名取载体模板（接受带修饰符的名字）
func (r *Registry) Get(name string) (ifc.Carrier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carriers[BaseName(name)]
	return c, ok
}

// Choose 按名选择载体
//
// 名字为空时用默认载体；未注册返回错误。
func (r *Registry) Choose(name string) (ifc.Carrier, error) {
	if name == "" {
		name = r.defaultName
	}
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCarrier, BaseName(name))
	}
	return c, nil
}

// Listen 用地址中指定的载体绑定监听
func (r *Registry) Listen(contact types.Contact) (ifc.Face, error) {
	c, err := r.Choose(contact.Carrier)
	if err != nil {
		return nil, err
	}
	return c.Listen(contact)
}

// Connect 用地址中指定的载体拨号
func (r *Registry) Connect(contact types.Contact) (ifc.OutputSession, error) {
	c, err := r.Choose(contact.Carrier)
	if err != nil {
		return nil, err
	}
	return c.Connect(contact)
}
