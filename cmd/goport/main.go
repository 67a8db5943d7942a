// goport 命令行工具
//
// 起一个端口挂在网络上，或向目标端口发管理指令：
//
//	goport listen /name            起端口并阻塞
//	goport admin  tcp://host:port "[ver]"
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	goport "github.com/dep2p/go-port"
	"github.com/dep2p/go-port/internal/core/carrier"
	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

type echoReader struct{}

func (echoReader) Read(cr ifc.ConnectionReader) bool {
	b, err := cr.ReadBottle()
	if err != nil {
		return false
	}
	if cr.IsEmpty() {
		return true
	}
	fmt.Printf("%s\n", b.String())
	return true
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	switch args[0] {
	case "listen":
		if len(args) != 2 {
			usage()
		}
		runListen(args[1])
	case "admin":
		if len(args) != 3 {
			usage()
		}
		runAdmin(args[1], args[2])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: goport listen /name | goport admin tcp://host:port \"[ver]\"")
	os.Exit(2)
}

func runListen(name string) {
	p, err := goport.New()
	if err != nil {
		fatal(err)
	}
	if err := p.SetReader(echoReader{}); err != nil {
		fatal(err)
	}
	if err := p.Open(name); err != nil {
		fatal(err)
	}
	defer p.Close()

	// 关闭要能在信号上下文里安全调用：等信号，然后正常收尾
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func runAdmin(target, command string) {
	contact, err := parseTarget(target)
	if err != nil {
		fatal(err)
	}

	reg := carrier.NewDefaultRegistry()
	sess, err := reg.Connect(contact)
	if err != nil {
		fatal(err)
	}
	defer sess.Close()

	if err := sess.Open(types.NewRoute("admin", contact.Name, contact.Carrier)); err != nil {
		fatal(err)
	}

	cmd, err := types.FromText(command)
	if err != nil {
		fatal(err)
	}
	if err := sess.WriteFrame(cmd, "", true); err != nil {
		fatal(err)
	}
	reply, err := sess.ReadReply()
	if err != nil {
		fatal(err)
	}

	// (many, ...) 逐元素一行
	if reply.Get(0).AsVocab() == types.Vocab("many") {
		for i := 1; i < reply.Size(); i++ {
			one := types.NewBottle()
			one.Add(reply.Get(i))
			fmt.Println(one.String())
		}
		return
	}
	fmt.Println(reply.String())
}

// parseTarget 解析 "carrier://host:port" 目标
func parseTarget(target string) (types.Contact, error) {
	carrierName := "tcp"
	rest := target
	if idx := strings.Index(target, "://"); idx >= 0 {
		carrierName = target[:idx]
		rest = target[idx+3:]
	}
	host, portStr, found := strings.Cut(rest, ":")
	if !found {
		return types.Contact{}, fmt.Errorf("bad target %q, want host:port", target)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return types.Contact{}, fmt.Errorf("bad port in %q", target)
	}
	return types.Contact{Name: target, Host: host, Port: port, Carrier: carrierName}, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "goport:", err)
	os.Exit(1)
}
