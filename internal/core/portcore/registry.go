package portcore

import (
	"golang.org/x/sync/errgroup"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// 单元表：有序序列，空槽为 nil。三种修改操作——
// 追加（控制面锁下）、标记拆除（通配匹配）、收割（关闭、
// 合流、删除并压实）。

// nextIndex 分配下一个单元序号
//
// 必须持有 stateMu。序号从 1 起单调递增，回绕到 1；
// 回绕后跳过仍在使用的序号，0 永不复用。
func (pc *PortCore) nextIndex() int32 {
	for {
		idx := pc.counter
		pc.counter++
		if pc.counter < 1 {
			pc.counter = 1
		}
		inUse := false
		for _, u := range pc.units {
			if u != nil && u.Index() == idx {
				inUse = true
				break
			}
		}
		if !inUse {
			return idx
		}
	}
}

// addInput 把入站会话包成输入单元并注册
//
// 正向连接只由监听循环调用；reverse 为真时是拉式出站
// 连接翻转而来（addOutput 或 ROS publisherUpdate 合成）。
func (pc *PortCore) addInput(sess ifc.InputSession, reverse bool) portUnit {
	pc.stateMu.Lock()
	if pc.state == types.StateFinished {
		pc.stateMu.Unlock()
		_ = sess.Close()
		return nil
	}
	u := newInputUnit(pc, pc.nextIndex(), sess, reverse)
	pc.units = append(pc.units, u)
	pc.stateMu.Unlock()

	u.Start()
	if pc.instruments != nil {
		pc.instruments.UnitAdded(types.DirInput)
	}
	return u
}

// addOutputUnit 把出站会话包成输出单元并注册
//
// 会话的握手（Open）已由调用方完成。
func (pc *PortCore) addOutputUnit(sess ifc.OutputSession) portUnit {
	pc.stateMu.Lock()
	if pc.state == types.StateFinished {
		pc.stateMu.Unlock()
		_ = sess.Close()
		return nil
	}
	u := newOutputUnit(pc, pc.nextIndex(), sess)
	pc.units = append(pc.units, u)
	pc.stateMu.Unlock()

	u.Start()
	if pc.instruments != nil {
		pc.instruments.UnitAdded(types.DirOutput)
	}
	return u
}

// isUnit 指定路由（可带序号约束）的单元是否仍在表中
//
// 必须持有 stateMu。
func (pc *PortCore) isUnit(route types.Route, index int32) bool {
	if pc.state == types.StateFinished {
		return false
	}
	for _, u := range pc.units {
		if u == nil {
			continue
		}
		if index >= 0 && u.Index() != index {
			continue
		}
		if route.Matches(u.Route()) {
			return true
		}
	}
	return false
}

// removeUnit 标记匹配路由的单元待拆除
//
// 通配语义：route 中的 "*" 匹配任意取值。except 非 nil 时，
// 载体名相符的单元不标记而把 *except 置真——addOutput 的
// onlyIfNeeded 用它探测既有连接是否已经满足要求。
//
// synch 为真时阻塞到匹配的单元全部被收割。本函数不带发起
// 单元；removeUnitFrom 的 caller 参数是发起调用的单元，等待时跳过它以免自锁。
func (pc *PortCore) removeUnit(route types.Route, synch bool, except *bool) bool {
	return pc.removeUnitFrom(nil, route, synch, except)
}

func (pc *PortCore) removeUnitFrom(caller portUnit, route types.Route, synch bool, except *bool) bool {
	if except != nil {
		*except = false
		logger.Debug("请求清理挡路的连接", "route", route.String())
	} else {
		logger.Debug("请求拆除连接", "route", route.String())
	}

	// 扫描匹配单元，标记拆除并记下序号
	var removals []int32
	pc.stateMu.Lock()
	needReap := false
	if pc.state != types.StateFinished {
		for _, u := range pc.units {
			if u == nil {
				continue
			}
			alt := u.Route()
			ok := true
			if route.From != types.Wildcard && route.From != alt.From {
				ok = false
			}
			if route.To != types.Wildcard && route.To != alt.To {
				ok = false
			}
			if route.Carrier != types.Wildcard {
				if except == nil {
					if route.Carrier != alt.Carrier {
						ok = false
					}
				} else if route.Carrier == alt.Carrier {
					// 已有载体相符的连接：不拆，报告给调用方
					*except = true
					ok = false
				}
			}
			if ok {
				logger.Debug("标记拆除", "route", alt.String())
				removals = append(removals, u.Index())
				u.Doom()
				needReap = true
			}
		}
	}
	noListener := pc.state != types.StateRunning || pc.closing
	face := pc.face
	addr := pc.address
	pc.stateMu.Unlock()

	if !needReap {
		return false
	}

	if noListener || face == nil {
		// 没有（或已在退出的）监听循环，自己动手收割
		pc.reapUnits()
		return true
	}

	// 自连一次，让监听循环醒来收割
	if op, err := face.Write(addr); err == nil {
		_ = op.Close()
	}

	if synch {
		logger.Debug("同步等待连接拆除完成")
		callerIdx := int32(-1)
		if caller != nil {
			callerIdx = caller.Index()
		}
		pc.connMu.Lock()
		for {
			pc.stateMu.Lock()
			pending := false
			for _, idx := range removals {
				if idx == callerIdx {
					continue
				}
				if pc.isUnit(route, idx) {
					pending = true
					break
				}
			}
			pc.stateMu.Unlock()
			if !pending {
				break
			}
			pc.connCond.Wait()
		}
		pc.connMu.Unlock()
	}
	return true
}

// reapUnits 收割待拆除的单元
//
// 对已标记拆除但 worker 尚未退出的单元：关闭会话并合流。
// 关闭与合流都在控制面锁之外进行，然后交给 cleanUnits。
func (pc *PortCore) reapUnits() {
	var victims []portUnit
	pc.stateMu.Lock()
	if pc.state != types.StateFinished {
		for _, u := range pc.units {
			if u != nil && u.IsDoomed() && !u.IsFinished() {
				victims = append(victims, u)
			}
		}
	}
	pc.stateMu.Unlock()

	for _, u := range victims {
		logger.Debug("收割连接", "route", u.Route().String())
		u.Close()
		if b, ok := u.(interface{ inDispatch() bool }); ok && b.inDispatch() {
			// 指令分发还没返回，留给下一轮收割
			continue
		}
		u.Join()
	}

	pc.cleanUnits(true)
}

// cleanUnits 从单元表中删除已退出的单元
//
// blocking 为假时是尽力而为：控制面锁被占就直接放弃。
// 顺带刷新连接计数：inputCount 不计来自 "admin" 的路由，
// dataOutputCount 只计模式串为空的输出。
func (pc *PortCore) cleanUnits(blocking bool) {
	if blocking {
		pc.stateMu.Lock()
	} else if !pc.stateMu.TryLock() {
		return
	}

	updatedInput := 0
	updatedOutput := 0
	updatedDataOutput := 0

	if pc.state != types.StateFinished {
		removedIn, removedOut := 0, 0
		for i, u := range pc.units {
			if u == nil {
				continue
			}
			if u.IsFinished() {
				u.Close()
				u.Join()
				if u.Direction() == types.DirOutput {
					removedOut++
				} else {
					removedIn++
				}
				pc.units[i] = nil
				continue
			}
			if u.IsDoomed() {
				continue
			}
			switch u.Direction() {
			case types.DirOutput:
				updatedOutput++
				if u.Mode() == "" {
					updatedDataOutput++
				}
			case types.DirInput:
				if u.Route().From != "admin" {
					updatedInput++
				}
			}
		}

		// 压实：非空槽下移，再截掉尾部空槽
		rem := 0
		for i, u := range pc.units {
			if u != nil {
				if rem < i {
					pc.units[rem] = u
					pc.units[i] = nil
				}
				rem++
			}
		}
		pc.units = pc.units[:rem]

		if pc.instruments != nil {
			for i := 0; i < removedIn; i++ {
				pc.instruments.UnitRemoved(types.DirInput)
			}
			for i := 0; i < removedOut; i++ {
				pc.instruments.UnitRemoved(types.DirOutput)
			}
		}
	}

	pc.dataOutputCount = updatedDataOutput
	pc.stateMu.Unlock()

	pc.packetMu.Lock()
	pc.inputCount = updatedInput
	pc.outputCount = updatedOutput
	pc.packetMu.Unlock()
}

// closeUnits 清空单元表
//
// 只在监听循环已经退出（或从未存在）后调用；
// 此时没有别人会碰单元表。
func (pc *PortCore) closeUnits() {
	pc.stateMu.Lock()
	victims := pc.units
	pc.units = nil
	pc.stateMu.Unlock()

	// 并行关闭合流：慢连接不拖慢整体关闭
	var g errgroup.Group
	for _, u := range victims {
		if u == nil {
			continue
		}
		u := u
		g.Go(func() error {
			logger.Debug("关闭单元", "route", u.Route().String())
			u.Close()
			u.Join()
			if pc.instruments != nil {
				pc.instruments.UnitRemoved(u.Direction())
			}
			return nil
		})
	}
	_ = g.Wait()

	pc.stateMu.Lock()
	pc.dataOutputCount = 0
	pc.stateMu.Unlock()

	pc.packetMu.Lock()
	pc.inputCount = 0
	pc.outputCount = 0
	pc.packetMu.Unlock()
}

// GetInputCount 入站连接数（快照读）
func (pc *PortCore) GetInputCount() int {
	pc.cleanUnits(false)
	pc.packetMu.Lock()
	defer pc.packetMu.Unlock()
	return pc.inputCount
}

// GetOutputCount 出站连接数（快照读）
func (pc *PortCore) GetOutputCount() int {
	pc.cleanUnits(false)
	pc.packetMu.Lock()
	defer pc.packetMu.Unlock()
	return pc.outputCount
}

// DataOutputCount 无日志修饰的输出数
func (pc *PortCore) DataOutputCount() int {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	return pc.dataOutputCount
}

// IsWriting 是否有单元正在写出
func (pc *PortCore) IsWriting() bool {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	if pc.state == types.StateFinished {
		return false
	}
	for _, u := range pc.units {
		if u != nil && !u.IsFinished() && u.IsBusy() {
			return true
		}
	}
	return false
}

// reportUnit 单元建立/退出时的上报
//
// 日志连接出现时置位 logNeeded，让记录路径开始工作。
func (pc *PortCore) reportUnit(u portUnit, active bool) {
	if u == nil {
		return
	}
	if active && u.Mode() != "" {
		pc.stateMu.Lock()
		pc.logNeeded = true
		pc.stateMu.Unlock()
	}

	pc.stateMu.Lock()
	reporter := pc.reporter
	name := pc.name
	pc.stateMu.Unlock()

	if reporter != nil {
		r := u.Route()
		reporter.Report(types.PortInfo{
			Tag:         types.InfoConnection,
			Incoming:    u.Direction() == types.DirInput,
			Created:     active,
			PortName:    name,
			SourceName:  r.From,
			TargetName:  r.To,
			CarrierName: r.Carrier,
			Message:     connectionMessage(u, name, active),
		})
	}
}

func connectionMessage(u portUnit, portName string, active bool) string {
	r := u.Route()
	verb := "added"
	if !active {
		verb = "removed"
	}
	dir := "input"
	if u.Direction() == types.DirOutput {
		dir = "output"
	}
	return "connection " + verb + ": " + dir + " " + r.String() + " on " + portName
}
