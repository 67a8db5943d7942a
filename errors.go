package goport

import "fmt"

// ConnectError 建立连接失败
//
// Detail 是引擎产出的人读诊断文本。
type ConnectError struct {
	Dest   string
	Detail string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %s", e.Dest, e.Detail)
}
