package portcore

import (
	"github.com/dep2p/go-port/pkg/types"
)

// QoS：管理协议把报文优先级词汇映射到 DSCP，再以
// TOS 字节（DSCP<<2）推进底层输出流。带回写通道的
// 输入连接（tcp ack、应答）也要一并配置。

// 预定义优先级 → DSCP
var priorityDSCP = map[int32]int{
	types.Vocab("LOW"):  10,
	types.Vocab("NORM"): 0,
	types.Vocab("HIGH"): 36,
	types.Vocab("CRIT"): 44,
}

// 具名 DSCP 类
var dscpClasses = map[int32]int{
	types.Vocab("CS0"):  0,
	types.Vocab("CS1"):  8,
	types.Vocab("CS2"):  16,
	types.Vocab("CS3"):  24,
	types.Vocab("CS4"):  32,
	types.Vocab("CS5"):  40,
	types.Vocab("CS6"):  48,
	types.Vocab("CS7"):  56,
	types.Vocab("AF11"): 10,
	types.Vocab("AF12"): 12,
	types.Vocab("AF13"): 14,
	types.Vocab("AF21"): 18,
	types.Vocab("AF22"): 20,
	types.Vocab("AF23"): 22,
	types.Vocab("AF31"): 26,
	types.Vocab("AF32"): 28,
	types.Vocab("AF33"): 30,
	types.Vocab("AF41"): 34,
	types.Vocab("AF42"): 36,
	types.Vocab("AF43"): 38,
	types.Vocab("VA"):   44,
	types.Vocab("EF"):   46,
}

// dscpFromPriority 按优先级词汇取 DSCP，未知返回 -1
func dscpFromPriority(vocab int32) int {
	if dscp, ok := priorityDSCP[vocab]; ok {
		return dscp
	}
	return -1
}

// dscpFromValue 解析 dscp 属性：具名类或 0..63 裸值
func dscpFromValue(v types.Value) int {
	if dscp, ok := dscpClasses[v.AsVocab()]; ok && v.Kind() != types.KindInt32 {
		return dscp
	}
	dscp := int(v.AsInt32())
	if dscp >= 0 && dscp < 64 {
		return dscp
	}
	return -1
}

// qosFromGroup 从 (qos ((...))) 组解出 TOS 字节，无效返回 -1
func qosFromGroup(qos *types.Bottle) int {
	opts := qos.Get(1).AsList()
	if opts == nil {
		return -1
	}
	if prio := opts.Find("priority"); !prio.IsNull() {
		if dscp := dscpFromPriority(prio.AsVocab()); dscp >= 0 {
			return dscp << 2
		}
		return -1
	}
	if dv := opts.Find("dscp"); !dv.IsNull() {
		if dscp := dscpFromValue(dv); dscp >= 0 {
			return dscp << 2
		}
		return -1
	}
	if tv := opts.Find("tos"); !tv.IsNull() {
		// 兼容旧用法：直接给 TOS
		return int(tv.AsInt32())
	}
	return -1
}

// setUnitTOS 在单元的底层流上设置 TOS
func setUnitTOS(u portUnit, tos int) bool {
	if u == nil {
		return false
	}
	return u.SetTOS(tos)
}

// setAllUnitsTOS 对端口的全部单元应用 TOS
//
// 对自身端口名执行 qos 设置时的语义：推给所有输出流
// 和带回写通道的输入流。
func (pc *PortCore) setAllUnitsTOS(tos int) bool {
	pc.stateMu.Lock()
	units := make([]portUnit, 0, len(pc.units))
	for _, u := range pc.units {
		if u != nil && !u.IsFinished() {
			units = append(units, u)
		}
	}
	pc.portTOS = tos
	pc.stateMu.Unlock()

	ok := true
	for _, u := range units {
		if !setUnitTOS(u, tos) {
			ok = false
		}
	}
	return ok
}
