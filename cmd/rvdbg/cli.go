package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"rvdbg/internal/log"
)

// CLI mirrors the teacher's kong.Vars + MapperValue pattern (arl-nestor's
// cli.go): flags override internal/config's TOML defaults field by field,
// except --log: main applies the TOML log.modules after it, so the modules
// named in both are enabled together, and "no" in the TOML clears them all.
type CLI struct {
	Config     string `name:"config" help:"Path to the TOML config file (default: OS config dir)." type:"path"`
	Listen     string `name:"listen" help:"Address to listen on for the debugger (host:port)." placeholder:"ADDR"`
	XLen       int    `name:"xlen" help:"Target register width: 32 or 64." enum:"0,32,64" default:"0"`
	Log        logModMask `name:"log" help:"${log_help}" placeholder:"mod0,mod1,..."`
	StatusAddr string `name:"status-addr" help:"Address for the read-only status WebSocket (empty disables it)." placeholder:"ADDR"`
	Elf        string `name:"elf" help:"Load this ELF file into target memory at startup." type:"existingfile"`
	Version    bool   `name:"version" help:"Print rvdbg's version and exit."`
}

var version = "dev"

var cliVars = kong.Vars{
	"log_help": "Enable debug logging for specified modules.",
}

func parseArgs(args []string) CLI {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("rvdbg"),
		kong.Description("RISC-V Debug Module / GDB Remote Serial Protocol stub."),
		kong.UsageOnError(),
		kong.Help(printHelp),
		cliVars)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args)
	checkf(err, "failed to parse command line")
	checkf(ctx.Error, "failed to parse command line")
	return cli
}

func printHelp(options kong.HelpOptions, ctx *kong.Context) error {
	if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
		return err
	}
	var names []string
	for _, m := range log.ModuleNames() {
		names = append(names, "    - "+m)
	}
	fmt.Fprintf(os.Stderr, "\nLog modules (--log mod0,mod1,...):\n%s\n    - all\n    - no\n",
		strings.Join(names, "\n"))
	return nil
}

// logModMask implements kong.MapperValue so --log rsp,dm turns on debug
// logging for exactly those modules before any subsystem starts. The flag
// and the TOML log.modules field share one parser (applyLogModuleString),
// so both surfaces accept the same syntax.
type logModMask log.ModuleMask

// Decode implements the kong.MapperValue interface.
func (lm logModMask) Decode(ctx *kong.DecodeContext) error {
	tok := ctx.Scan.Pop()
	spec, ok := tok.Value.(string)
	if !ok {
		return fmt.Errorf("--log expects a comma-separated module list")
	}
	return applyLogModuleString(spec)
}

// applyLogModuleString enables the debug-log modules named in spec:
// a comma-separated list of internal/log module names, or "all" for every
// module, or "no" to leave everything gated off.
func applyLogModuleString(spec string) error {
	var mask log.ModuleMask
	all, none := false, false

	for _, name := range strings.Split(spec, ",") {
		switch name {
		case "":
		case "all":
			all = true
		case "no":
			none = true
		default:
			mod, ok := log.ModuleByName(name)
			if !ok {
				return fmt.Errorf("unknown log module %q (see --help for the module list)", name)
			}
			mask |= mod.Mask()
		}
	}

	if none {
		if all || mask != 0 {
			return fmt.Errorf("log module list %q mixes 'no' with enabled modules", spec)
		}
		log.Disable()
		return nil
	}
	if all {
		mask = log.ModuleMaskAll
	}
	log.EnableDebugModules(mask)
	return nil
}

func checkf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	fatalf(format+": "+err.Error(), args...)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "rvdbg: %s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}
