package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/flipper-emu/flipper/config"
	"github.com/flipper-emu/flipper/dol"
	"github.com/flipper-emu/flipper/emu"
	"github.com/flipper-emu/flipper/jit"
	"github.com/flipper-emu/flipper/monitor"
	"github.com/flipper-emu/flipper/script"
)

const (
	ramBase = 0x80000000
	ramSize = 24 << 20
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	fs := flag.NewFlagSet("flipper", flag.ExitOnError)
	var (
		interactive = fs.Bool("monitor", false, "start the interactive monitor")
		trace       = fs.Bool("trace", false, "print block and register trace")
		luaScript   = fs.String("lua", "", "run a lua script before execution")
		maxIns      = fs.Int("max-ins", 0, "max instructions per translation unit")
		budget      = fs.Int64("budget", 0, "cache budget in lowered steps")
		saveConfig  = fs.Bool("save-config", false, "persist current settings and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <image.dol>\n", args[0])
		fs.PrintDefaults()
	}
	fs.Parse(args[1:])

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if *maxIns > 0 {
		settings.MaxIns = *maxIns
	}
	if *budget > 0 {
		settings.BudgetMax = *budget
	}
	if *trace {
		settings.Trace = true
	}
	if *saveConfig {
		if err := settings.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	if err := boot(fs.Arg(0), settings, *interactive, *luaScript); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func boot(path string, settings config.Settings, interactive bool, luaScript string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := dol.Parse(data)
	if err != nil {
		return err
	}

	e := emu.New(emu.Config{Jit: jit.Config{
		MaxIns:      settings.MaxIns,
		BudgetMax:   settings.BudgetMax,
		Speculative: settings.Speculative,
	}})
	defer e.Close()

	if err := e.Bus.Map(ramBase, ramSize, "ram"); err != nil {
		return err
	}
	if err := img.Load(e.Bus); err != nil {
		return err
	}
	e.State.PC = img.Entry

	if settings.Trace {
		e.SetTracer(emu.NewTracer(os.Stderr))
	}

	if luaScript != "" {
		sc := script.New(e)
		err := sc.RunFile(luaScript)
		sc.Close()
		if err != nil {
			return err
		}
	}

	if interactive {
		mon, err := monitor.New(e)
		if err != nil {
			return err
		}
		defer mon.Close()
		return mon.Run()
	}

	r := e.ExecuteUntil(emu.RunForever())
	return errors.Errorf("stopped: %v at %#x", r.Kind, r.Addr)
}
