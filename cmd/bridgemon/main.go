package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/bridge"
	"github.com/wippyai/mgmt-bridge/gateway"
	"github.com/wippyai/mgmt-bridge/hostwazero"
	"github.com/wippyai/mgmt-bridge/instrument"
)

var (
	guestCount  = flag.Int("guests", 2, "number of guest isolates to attach")
	interactive = flag.Bool("i", false, "interactive monitor (TUI)")
	verbose     = flag.Bool("v", false, "verbose logging")
	waitAcks    = flag.Duration("wait", 3*time.Second, "how long to wait for registration acks")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bridgemon [options]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Boots an in-process wazero host, attaches guest isolates and")
		fmt.Fprintln(os.Stderr, "registers demo instruments through the management bridge.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verbose {
		installLogger()
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*guestCount, *waitAcks); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func installLogger() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
		os.Exit(1)
	}
	bridge.SetLogger(log.Named("bridge"))
	gateway.SetLogger(log.Named("gateway"))
	hostwazero.SetLogger(log.Named("hostwazero"))
}

func run(guests int, wait time.Duration) error {
	if guests < 1 {
		return fmt.Errorf("need at least one guest, got %d", guests)
	}

	ctx := context.Background()
	host, err := hostwazero.NewHost(ctx)
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	defer host.Close(ctx)

	fmt.Printf("Host up, attaching %d guest(s)\n\n", guests)

	regs := make([]*bridge.Registry, 0, guests)
	want := 0
	for i := 1; i <= guests; i++ {
		guest, err := host.Attach(hostwazero.AttachConfig{IsolateID: mgmtbridge.IsolateID(i)})
		if err != nil {
			return fmt.Errorf("attach isolate %d: %w", i, err)
		}
		reg := bridge.NewRegistry(guest, nil, bridge.DefaultOptions())
		guest.BindQueue(reg.Bindings())

		ok, err := reg.Bootstrap(ctx, guest.Layout())
		if err != nil {
			return fmt.Errorf("bootstrap isolate %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("bootstrap isolate %d: host declined", i)
		}
		want++ // the bootstrap memory pool

		for _, name := range []string{
			"wippy.app:type=Counter,name=Requests",
			"wippy.app:type=Counter,name=Errors",
		} {
			proxy, err := reg.NewProxy(instrument.NewCounter(name), name)
			if err != nil {
				return fmt.Errorf("proxy %q: %w", name, err)
			}
			if err := reg.EnqueueAndNotify(ctx, proxy); err != nil {
				return fmt.Errorf("enqueue %q: %w", name, err)
			}
			want++
		}
		regs = append(regs, reg)
	}

	deadline := time.Now().Add(wait)
	for len(host.RegisteredNames()) < want {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out: %d of %d instruments registered after %s",
				len(host.RegisteredNames()), want, wait)
		}
		time.Sleep(10 * time.Millisecond)
	}

	printRegistered(host)

	for _, reg := range regs {
		if mp := reg.MemoryPool(); mp != nil {
			mp.Poll()
			if pool, ok := mp.Instrument().(*instrument.MemoryPool); ok {
				fmt.Printf("Isolate %d heap: used %d, reserved %d, gc cycles %d\n",
					reg.IsolateID(), pool.Used(), pool.Reserved(), pool.GCCycles())
			}
		}
	}

	if len(regs) > 1 {
		fmt.Printf("\nClosing isolate %d\n", regs[0].IsolateID())
		regs[0].Close(ctx)
		printRegistered(host)
	}

	return nil
}

func printRegistered(host *hostwazero.Host) {
	names := host.RegisteredNames()
	sort.Strings(names)
	fmt.Printf("Registered instruments (%d):\n", len(names))
	for _, name := range names {
		owner, _ := host.RegisteredOwner(name)
		fmt.Printf("  %-52s isolate %d\n", name, owner)
	}
	fmt.Println()
}
