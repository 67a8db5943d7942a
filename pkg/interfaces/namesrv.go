package interfaces

import (
	"github.com/dep2p/go-port/pkg/types"
)

// NameService 名字服务客户端契约
//
// 端口通过它完成名字解析、宣告与注销。
// 本地模式下所有调用落在进程内注册表上。
type NameService interface {
	// QueryName 解析端口名，未注册返回无效 Contact
	QueryName(name string) (types.Contact, error)

	// Register 注册名字与地址的绑定，返回服务端确认的地址
	//
	// 传入 AutoName 时由服务端分配名字。
	Register(name string, c types.Contact) (types.Contact, error)

	// Announce 向名字服务宣告端口上线
	Announce(name string) error

	// WriteToNameServer 发送任意指令
	WriteToNameServer(cmd *types.Bottle) (*types.Bottle, error)

	// Disconnect 请求 src 拆除它到 dst 的输出
	Disconnect(src, dst string) error

	// DisconnectInput 请求 dst 拆除来自 src 的输入
	//
	// Disconnect 的反向兜底。
	DisconnectInput(dst, src string) error

	// UnregisterName 注销名字
	UnregisterName(name string) error

	// LocalMode 是否运行在本进程内的局部模式
	LocalMode() bool

	// QueryBypass 查询旁路
	//
	// 非 nil 时所有 QueryName 先走旁路；局部模式判断也参考它。
	QueryBypass() NameService
}
