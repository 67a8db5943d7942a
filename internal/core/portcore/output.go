package portcore

import (
	"strings"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// diag 人读诊断文本块
//
// 资源获取失败按"布尔返回 + 诊断文本"上报，
// 文本流回调用方提供的接收器。
type Diag struct {
	lines []string
}

func (d *Diag) appendLine(s string) {
	d.lines = append(d.lines, s)
}

func (d *Diag) String() string {
	return strings.Join(d.lines, "\n")
}

func (d *Diag) first() string {
	if len(d.lines) == 0 {
		return ""
	}
	return d.lines[0]
}

// AddOutput 建立一条到 dest 的出站连接
//
// dest 形如 "/name" 或 "carrier:/name"。onlyIfNeeded 为真时，
// 若已存在载体相符的连接则直接成功、不再新建；载体不符的
// 旧连接会被拆掉。诊断文本写入 d。
func (pc *PortCore) AddOutput(dest string, d *Diag, onlyIfNeeded bool) bool {
	logger.Debug("请求建立输出", "dest", dest)

	// 解析目标并向名字服务要地址
	parts := types.ParseName(dest)
	contact, err := pc.names.QueryName(parts.Name)
	if err != nil || !contact.Valid() {
		d.appendLine("Do not know how to connect to " + dest)
		return false
	}
	if parts.Carrier != "" {
		contact.Carrier = parts.Carrier
	}

	// 清掉既有的同目标连接；onlyIfNeeded 时探测载体相符的连接
	if onlyIfNeeded {
		except := false
		pc.removeUnit(types.NewRoute(pc.Name(), contact.Name, contact.Carrier), true, &except)
		if except {
			logger.Debug("输出已存在", "dest", dest)
			d.appendLine("Desired connection already present from " + pc.Name() + " to " + dest)
			return true
		}
	} else {
		pc.removeUnit(types.NewRoute(pc.Name(), contact.Name, types.Wildcard), true, nil)
	}

	aname := contact.Name
	if aname == "" {
		aname = contact.URI()
	}
	route := types.NewRoute(pc.Name(), aname, contact.Carrier)

	// 检查端口限制：只读端口、RPC 独占
	allowed := true
	errMsg := ""
	appendMsg := ""
	flags := pc.Flags()
	mode := logModeOf(route.Carrier)
	isLog := mode != ""
	if isLog {
		if mode != "in" {
			errMsg = "Logger configured as log." + mode + ", but only log.in is supported"
			allowed = false
		} else {
			appendMsg = "; " + route.From + " will forward messages and replies (if any) to " + route.To
		}
	}
	if allowed && !flags.Has(types.FlagOutput) {
		if !isLog {
			push := true
			if tmpl, ok := pc.carriers.Get(route.Carrier); ok {
				push = tmpl.IsPush()
			}
			if push {
				errMsg = "Outputs not allowed"
				allowed = false
			}
		}
	} else if allowed && flags.Has(types.FlagRPC) {
		if pc.DataOutputCount() >= 1 && !isLog {
			errMsg = "RPC output already connected"
			allowed = false
		}
	}

	if !allowed {
		d.appendLine(errMsg)
		return false
	}

	// 拨号并握手
	if pc.config.Timeout > 0 {
		contact.Timeout = pc.config.Timeout
	}
	sess, err := pc.carriers.Connect(contact)
	if err != nil {
		d.appendLine("Cannot connect to " + dest)
		return false
	}
	if err := sess.Open(route); err != nil {
		logger.Debug("握手失败", "route", route.String(), "error", err)
		_ = sess.Close()
		d.appendLine("Cannot connect to " + dest)
		return false
	}

	// 推式连接走正常路径；拉式连接翻转路由，注册为输入单元
	if in, reverse := sess.Input(); reverse {
		swapped := route.Swapped()
		sess.Rename(swapped)
		pc.addInput(in, true)
	} else {
		pc.addOutputUnit(sess)
	}

	d.appendLine("Added connection from " + pc.Name() + " to " + dest + appendMsg)
	pc.cleanUnits(true)
	return true
}

// RemoveOutput 拆除到 dest 的出站连接
func (pc *PortCore) RemoveOutput(dest string, d *Diag) {
	pc.removeOutputFrom(nil, dest, d)
}

func (pc *PortCore) removeOutputFrom(caller portUnit, dest string, d *Diag) {
	if pc.removeUnitFrom(caller, types.NewRoute(types.Wildcard, dest, types.Wildcard), true, nil) {
		d.appendLine("Removed connection from " + pc.Name() + " to " + dest)
	} else {
		d.appendLine("Could not find an outgoing connection to " + dest)
	}
	pc.cleanUnits(true)
}

// RemoveInput 拆除来自 src 的入站连接
func (pc *PortCore) RemoveInput(src string, d *Diag) {
	pc.removeInputFrom(nil, src, d)
}

func (pc *PortCore) removeInputFrom(caller portUnit, src string, d *Diag) {
	if pc.removeUnitFrom(caller, types.NewRoute(src, types.Wildcard, types.Wildcard), true, nil) {
		d.appendLine("Removing connection from " + src + " to " + pc.Name())
	} else {
		d.appendLine("Could not find an incoming connection from " + src)
	}
	pc.cleanUnits(true)
}

// RemoveIO 按路由拆除连接（带通配）
func (pc *PortCore) RemoveIO(route types.Route, synch bool) bool {
	return pc.removeUnit(route, synch, nil)
}

// Describe 通过上报通道描述端口现状
//
// 输出连接全部上报；输入连接只上报载体名非空的
// （空载体的是尚未完成握手的半成品）。
func (pc *PortCore) Describe(reporter ifc.Reporter) {
	pc.cleanUnits(true)

	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()

	name := pc.address.Name
	reporter.Report(types.PortInfo{
		Tag:     types.InfoMisc,
		Message: "This is " + name + " at " + pc.address.URI(),
	})

	oct := 0
	for _, u := range pc.units {
		if u == nil || u.Direction() != types.DirOutput || u.IsFinished() {
			continue
		}
		r := u.Route()
		reporter.Report(types.PortInfo{
			Tag:         types.InfoConnection,
			Incoming:    false,
			PortName:    name,
			SourceName:  r.From,
			TargetName:  r.To,
			CarrierName: r.Carrier,
			Message:     "There is an output connection from " + r.From + " to " + r.To + " using " + r.Carrier,
		})
		oct++
	}
	if oct < 1 {
		reporter.Report(types.PortInfo{
			Tag:     types.InfoMisc,
			Message: "There are no outgoing connections",
		})
	}

	ict := 0
	for _, u := range pc.units {
		if u == nil || u.Direction() != types.DirInput || u.IsFinished() {
			continue
		}
		r := u.Route()
		if r.Carrier == "" {
			continue
		}
		reporter.Report(types.PortInfo{
			Tag:         types.InfoConnection,
			Incoming:    true,
			PortName:    name,
			SourceName:  r.From,
			TargetName:  r.To,
			CarrierName: r.Carrier,
			Message:     "There is an input connection from " + r.From + " to " + r.To + " using " + r.Carrier,
		})
		ict++
	}
	if ict < 1 {
		reporter.Report(types.PortInfo{
			Tag:     types.InfoMisc,
			Message: "There are no incoming connections",
		})
	}
}
