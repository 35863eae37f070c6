// Command ttcom is a minimal wiring demo for the TTCom-family client
// library: it loads server configuration, reconciles it into a
// registry, logs in every autologin server, and drives a line-oriented
// command loop against whichever server is current.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/config"
	"git.sr.ht/~dlee/ttcom/internal/registry"
	"git.sr.ht/~dlee/ttcom/internal/session"
)

func main() {
	configPath := flag.String("config", "ttcom.conf", "scfg server configuration file")
	logPath := flag.String("log", "ttcom.log", "event log file")
	flag.Parse()

	eventLog, err := registry.OpenEventLog(*logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ttcom:", err)
		os.Exit(1)
	}
	stop := make(chan struct{})
	eventLog.StartFlusher(stop)
	defer close(stop)
	defer eventLog.Close()
	eventLog.WriteGlobal("starting")

	var dispatcher session.Dispatcher = session.DispatcherFunc(runCommand)
	reg := registry.New(eventLog, dispatcher.RunCommand, output)

	servers, err := (config.ScfgSource{Path: *configPath}).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ttcom: loading config:", err)
		os.Exit(1)
	}
	reg.Reconcile(servers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.LoginAll(ctx)

	runLoop(reg)
	eventLog.WriteGlobal("stopping")
}

func output(shortname, line string, fromEvent bool) {
	fmt.Printf("%s: %s\n", shortname, line)
}

// runCommand is the trigger action fallback: a trigger action that isn't
// a direct send/sendwithwait/say is handed here as if a user had typed
// it, matching the original client's self.onecmd hookup. This demo
// simply echoes it; a fuller command processor would parse and dispatch
// it the way do_server/do_summary and friends do.
func runCommand(line string) {
	fmt.Println(line)
}

var current string

func runLoop(reg *registry.Registry) {
	names := reg.Shortnames()
	if len(names) > 0 {
		current = names[0]
	}
	fmt.Println("ttcom ready. Commands: server <name>, quit, or a raw protocol line for the current server.")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "server":
			handleServerCommand(reg, fields)
		default:
			sendToCurrent(reg, line)
		}
	}
}

func handleServerCommand(reg *registry.Registry, fields []string) {
	if len(fields) < 2 {
		fmt.Println("Current server is", current)
		return
	}
	if _, ok := reg.Get(fields[1]); !ok {
		fmt.Println("No such server:", fields[1])
		return
	}
	current = fields[1]
}

func sendToCurrent(reg *registry.Registry, line string) {
	srv, ok := reg.Get(current)
	if !ok {
		fmt.Println("No current server.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Send(ctx, line); err != nil {
		fmt.Println("send error:", err)
	}
}
