// Package nameclient 实现名字服务客户端
//
// 局部模式下名字登记在进程内注册表；查询旁路允许上层
// 接入外部名字空间。拆除连接的请求通过目标端口的管理
// 通道送达（(del, ...) 指令）。
package nameclient

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/lib/log"
	"github.com/dep2p/go-port/pkg/types"
)

var logger = log.Logger("core/nameclient")

var (
	// ErrNotRegistered 名字未登记
	ErrNotRegistered = errors.New("name not registered")

	// ErrBadCommand 名字服务指令不合法
	ErrBadCommand = errors.New("bad name server command")
)

// queryCacheSize 解析结果缓存容量
const queryCacheSize = 128

// entry 一条登记
type entry struct {
	contact types.Contact

	// token 登记凭据，注销时校验归属
	token string

	announced bool
}

// Client 名字服务客户端
type Client struct {
	mu      sync.Mutex
	names   map[string]*entry
	bypass  ifc.NameService
	cache   *lru.Cache[string, types.Contact]
	carriers ifc.CarrierRegistry

	// localOnly 局部模式：不与任何外部名字服务通信
	localOnly bool
}

var _ ifc.NameService = (*Client)(nil)

// Option 客户端选项
type Option func(*Client)

// WithBypass 安装查询旁路
func WithBypass(bypass ifc.NameService) Option {
	return func(c *Client) { c.bypass = bypass }
}

// WithCarriers 提供载体注册表
//
// 拆除请求要经管理通道送达对端，没有注册表就只能
// 靠对端自己发现断连。
func WithCarriers(carriers ifc.CarrierRegistry) Option {
	return func(c *Client) { c.carriers = carriers }
}

// New 创建局部模式客户端
func New(opts ...Option) *Client {
	cache, _ := lru.New[string, types.Contact](queryCacheSize)
	c := &Client{
		names:     make(map[string]*entry),
		cache:     cache,
		localOnly: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryName 解析端口名
func (c *Client) QueryName(name string) (types.Contact, error) {
	if c.bypass != nil {
		if contact, err := c.bypass.QueryName(name); err == nil && contact.Valid() {
			return contact, nil
		}
	}

	c.mu.Lock()
	e, ok := c.names[name]
	c.mu.Unlock()
	if ok {
		c.cache.Add(name, e.contact)
		return e.contact, nil
	}

	if contact, ok := c.cache.Get(name); ok {
		return contact, nil
	}
	return types.Contact{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
}

// Register 登记名字与地址的绑定
//
// 名字为占位名时按凭据生成。返回确认后的地址。
func (c *Client) Register(name string, contact types.Contact) (types.Contact, error) {
	token := uuid.NewString()
	if name == types.AutoName || name == "" {
		name = "/tmp/port_" + token
	}
	contact.Name = name

	c.mu.Lock()
	c.names[name] = &entry{contact: contact, token: token}
	c.mu.Unlock()
	c.cache.Add(name, contact)

	logger.Debug("登记名字", "name", name, "addr", contact.URI())
	return contact, nil
}

// Announce 宣告端口上线
func (c *Client) Announce(name string) error {
	cmd := types.NewBottle()
	cmd.AddString("announce")
	cmd.AddString(name)
	_, err := c.WriteToNameServer(cmd)
	return err
}

// WriteToNameServer 处理名字服务指令
func (c *Client) WriteToNameServer(cmd *types.Bottle) (*types.Bottle, error) {
	reply := types.NewBottle()
	switch cmd.Get(0).AsString() {
	case "announce":
		name := cmd.Get(1).AsString()
		c.mu.Lock()
		if e, ok := c.names[name]; ok {
			e.announced = true
		}
		c.mu.Unlock()
		reply.AddVocab("ok")
		return reply, nil
	case "unregister":
		if err := c.UnregisterName(cmd.Get(1).AsString()); err != nil {
			reply.AddVocab("fail")
			reply.AddString(err.Error())
			return reply, nil
		}
		reply.AddVocab("ok")
		return reply, nil
	case "query":
		contact, err := c.QueryName(cmd.Get(1).AsString())
		if err != nil {
			reply.AddVocab("fail")
			reply.AddString(err.Error())
			return reply, nil
		}
		reply.AddString(contact.Name)
		reply.AddString(contact.Host)
		reply.AddInt32(int32(contact.Port))
		reply.AddString(contact.Carrier)
		return reply, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrBadCommand, cmd.String())
}

// UnregisterName 注销名字
func (c *Client) UnregisterName(name string) error {
	c.mu.Lock()
	delete(c.names, name)
	c.mu.Unlock()
	c.cache.Remove(name)
	logger.Debug("注销名字", "name", name)
	return nil
}

// Disconnect 请求 src 拆除它到 dst 的输出
//
// 经 src 的管理通道发 (del, dst)。
func (c *Client) Disconnect(src, dst string) error {
	return c.sendDel(src, dst)
}

// DisconnectInput 请求 dst 拆除来自 src 的输入
func (c *Client) DisconnectInput(dst, src string) error {
	return c.sendDel(dst, src)
}

// sendDel 向 target 端口的管理通道发 (del, other)
func (c *Client) sendDel(target, other string) error {
	if c.carriers == nil {
		return errors.New("no carrier registry available for disconnect")
	}
	contact, err := c.QueryName(target)
	if err != nil {
		return err
	}

	sess, err := c.carriers.Connect(contact)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Open(types.NewRoute("admin", target, contact.Carrier)); err != nil {
		return err
	}

	cmd := types.NewBottle()
	cmd.AddVocab("del")
	cmd.AddString(other)
	if err := sess.WriteFrame(cmd, "", true); err != nil {
		return err
	}
	if !sess.SupportsReply() {
		return nil
	}
	reply, err := sess.ReadReply()
	if err != nil {
		return err
	}
	if reply.Get(0).AsInt32() < 0 {
		return fmt.Errorf("disconnect %s from %s: %s", other, target, reply.Get(1).AsString())
	}
	return nil
}

// LocalMode 是否局部模式
func (c *Client) LocalMode() bool { return c.localOnly }

// QueryBypass 查询旁路
func (c *Client) QueryBypass() ifc.NameService { return c.bypass }
