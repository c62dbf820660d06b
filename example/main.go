package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	"github.com/st-keller/binjatron"
	"github.com/st-keller/binjatron/types"
)

const statsviewAddress = "localhost:12600"

const help = `commands:
  sync              start synchronising
  stop              stop synchronising
  b ADDR            set breakpoint
  d ADDR            delete breakpoint
  slide ADDR        pair ADDR with the debugger's program counter
  noslide           clear the slide
  w ADDR HEX        edit bytes in the view (written to the debugger)
  state             show the sync state
  info              show the debugger and connection
  quit`

func main() {
	defaultConfig, _ := binjatron.DefaultConfigPath()

	configPath := flag.String("config", defaultConfig, "configuration file")
	binary := flag.String("binary", "", "ELF binary providing the function symbols")
	tty := flag.String("tty", "/dev/tty", "terminal used for single key confirmations")
	stats := flag.Bool("statsview", false, fmt.Sprintf("run runtime statistics server on %s", statsviewAddress))
	graph := flag.String("memviz", "", "write a graphviz graph of the session state to file on quit")
	flag.Parse()

	cfg, err := binjatron.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if *stats {
		go func() {
			viewer.SetConfiguration(viewer.WithAddr(statsviewAddress))
			statsview.New().Start()
		}()
		log.Printf("stats server available at %s/debug/statsview", statsviewAddress)
	}

	view, err := loadELFView(*binary, os.Stdout)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	con := newConsole(os.Stdin, os.Stdout, *tty, view)

	p, err := binjatron.New(cfg, con, nil)
	if err != nil {
		log.Fatalf("❌ Failed to create plugin: %v", err)
	}
	p.Logs().SetEcho(false)

	_, _ = p.RegisterSyncCallback(func(results []*types.Result) {
		for _, r := range results {
			if pc, ok := r.PC(); ok {
				fmt.Printf("  pc %s\n", pc)
			}
		}
	}, true)

	// the debugger may not be up yet; "sync" tries again
	_ = p.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println(help)

	for {
		select {
		case <-sig:
			quit(p, *graph)
			return
		case line, ok := <-con.lines:
			if !ok {
				quit(p, *graph)
				return
			}
			if !command(p, con, line) {
				quit(p, *graph)
				return
			}
		}
	}
}

// command runs one line of input. Returns false on quit.
func command(p *binjatron.Plugin, con *console, line string) bool {
	f := strings.Fields(line)
	if len(f) == 0 {
		return true
	}

	arg := func(i int) (types.Address, bool) {
		if len(f) <= i {
			fmt.Println("address required")
			return 0, false
		}
		a, err := strconv.ParseUint(strings.TrimPrefix(f[i], "0x"), 16, 64)
		if err != nil {
			fmt.Printf("bad address %q\n", f[i])
			return 0, false
		}
		return types.Address(a), true
	}

	switch f[0] {
	case "sync":
		_ = p.Start()
	case "stop":
		_ = p.Stop()
	case "b":
		if a, ok := arg(1); ok {
			_ = p.SetBreakpoint(a)
		}
	case "d":
		if a, ok := arg(1); ok {
			_ = p.DeleteBreakpoint(a)
		}
	case "slide":
		if a, ok := arg(1); ok {
			_ = p.SetSlide(a)
		}
	case "noslide":
		p.ClearSlide()
	case "w":
		a, ok := arg(1)
		if !ok || len(f) < 3 {
			break
		}
		data, err := hex.DecodeString(f[2])
		if err != nil {
			fmt.Printf("bad bytes %q\n", f[2])
			break
		}
		con.edit(a, data)
	case "state":
		s := p.Snapshot()
		fmt.Printf("%s slide=%s pc=%s breakpoints=%v polls=%d failures=%d\n",
			s.State, s.Slide, s.PC, s.Breakpoints, s.Polls, s.Failures)
	case "info":
		if info := p.DebuggerInfo(); info != nil {
			fmt.Printf("%v\n", info.GetData())
		}
		fmt.Printf("%v\n", p.Connectivity().GetData())
		fmt.Printf("%v\n", p.Logs().GetData())
	case "quit", "q":
		return false
	default:
		fmt.Println(help)
	}

	return true
}

func quit(p *binjatron.Plugin, graph string) {
	if graph != "" {
		f, err := os.Create(graph)
		if err != nil {
			log.Printf("⚠️  %v", err)
		} else {
			p.WriteStateGraph(f)
			f.Close()
		}
	}

	if p.CurrentSyncState() != binjatron.Idle {
		_ = p.Stop()
	}
	log.Println("🛑 Shutting down...")
}
