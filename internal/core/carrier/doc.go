// Package carrier 实现载体注册表与内建载体
//
// 载体是可插拔的传输协议，向引擎暴露统一的会话接口。
// 内建载体：
//
//   - tcp    字节流上的长度帧（默认载体）
//   - local  进程内管道，测试与自连唤醒用
//   - text   人读文本方言，telnet 即可做管理操作
//   - ws     WebSocket 二进制消息帧
//   - rostcp TCPROS 拉式载体（反向连接）
//
// 载体名可带修饰符，如 "tcp+log.in"：按基名查模板，
// 修饰符由引擎解释。
package carrier
