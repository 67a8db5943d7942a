// Package types 定义 go-port 公共值类型
//
// 包括路由（Route）、联系地址（Contact）、瓶装消息（Bottle）、
// 端口状态枚举以及连接事件（PortInfo）。
// 这些都是纯值类型，不持有任何资源。
package types
