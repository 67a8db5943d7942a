package types

import (
	"fmt"
	"strings"
	"time"
)

// AutoName 占位名，表示请求自动分配端口名
const AutoName = "/..."

// Contact 端口的联系地址
//
// 包含注册名、网络位置和载体名。注册名为 AutoName 时
// 表示监听成功后用 host+port 自动生成名字。
type Contact struct {
	// Name 注册名，以 '/' 开头
	Name string

	// Host 主机名或 IP
	Host string

	// Port 端口号，<=0 表示待分配
	Port int

	// Carrier 载体名，空表示默认载体
	Carrier string

	// Timeout 可选的连接超时，0 表示不限
	Timeout time.Duration
}

// Valid 返回地址是否可用于建立连接
func (c Contact) Valid() bool {
	return c.Port > 0 && c.Host != ""
}

// HostPort 返回 "host:port" 形式
func (c Contact) HostPort() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// URI 渲染为 "carrier://host:port" 形式
func (c Contact) URI() string {
	carrier := c.Carrier
	if carrier == "" {
		carrier = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", carrier, c.Host, c.Port)
}

// AutoAssignedName 根据网络位置生成自动分配的注册名
//
// 形式为 "/<host>_<port>"，与占位名 AutoName 配套使用。
func (c Contact) AutoAssignedName() string {
	return fmt.Sprintf("/%s_%d", c.Host, c.Port)
}

// ParseName 解析连接目标字符串
//
// 支持两种形式：
//   - "/portname"            —— 仅注册名
//   - "carrier:/portname"    —— 带载体前缀（管理命令 add 的第二参数拼出）
func ParseName(dest string) Contact {
	if idx := strings.Index(dest, ":/"); idx > 0 && !strings.Contains(dest[:idx], "/") {
		return Contact{
			Name:    dest[idx+1:],
			Carrier: dest[:idx],
		}
	}
	return Contact{Name: dest}
}
