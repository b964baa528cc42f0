// Command rvdbg is the RISC-V Debug Module / GDB Remote Serial Protocol
// stub: it bridges a GDB-speaking RSP client over TCP to a v0.13 RISC-V
// Debug Module reached over a DMI bridge connection.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rvdbg/internal/config"
	"rvdbg/internal/dm"
	"rvdbg/internal/dmitransport"
	"rvdbg/internal/elf"
	"rvdbg/internal/log"
	"rvdbg/internal/rsp"
	"rvdbg/internal/statusws"
	"rvdbg/internal/transport"
)

func main() {
	cli := parseArgs(os.Args[1:])
	if cli.Version {
		println("rvdbg " + version)
		return
	}

	cfg := config.LoadOrDefault(cli.Config)
	if cli.Listen != "" {
		cfg.Session.ListenAddr = cli.Listen
	}
	if cli.XLen != 0 {
		cfg.Session.XLen = uint8(cli.XLen)
	}
	if cli.StatusAddr != "" {
		cfg.Status.Enabled = true
		cfg.Status.ListenAddr = cli.StatusAddr
	}
	if cfg.Log.Modules != "" {
		if err := applyLogModuleString(cfg.Log.Modules); err != nil {
			fatalf("invalid log.modules in config: %v", err)
		}
	}

	dmiAddr := os.Getenv("RVDBG_DMI_ADDR")
	var t dm.Transport
	if dmiAddr != "" {
		tcpT, err := dmitransport.Dial(dmiAddr, 2*time.Second)
		checkf(err, "connecting to DMI bridge at %s", dmiAddr)
		defer tcpT.Close()
		t = tcpT
	} else {
		log.ModCLI.WarnZ("no RVDBG_DMI_ADDR set, running with an uninitialized back end").End()
		t = nullTransport{}
	}

	backend := dm.NewBackend(t)
	backend.PollBudget = dm.PollBudget{
		Sleep:    cfg.Session.PollSleep(),
		MaxIters: cfg.Session.CPUTimeoutPolls,
	}
	backend.PostResumeDelay = cfg.Session.PostResumeDelay()
	backend.SetXLen(cfg.Session.XLen)
	if dmiAddr != "" {
		checkf(backend.Init(), "initializing debug module back end")
	}
	defer backend.Final()

	if cli.Elf != "" {
		if _, err := elf.NewLoader(backend).Load(cli.Elf); err != nil {
			log.ModCLI.WarnZ("startup ELF load failed").Error("err", err).End()
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var status *statusws.Server
	if cfg.Status.Enabled {
		status = statusws.NewServer(cfg.Status.ListenAddr)
	}

	handler := func(conn net.Conn, stopCh <-chan struct{}) error {
		sess := rsp.NewSession(conn, stopCh, backend, cfg.Session.XLen,
			cfg.Session.PostResumeDelay())
		sess.ElfLoad = func(path string) error {
			_, err := elf.NewLoader(backend).Load(path)
			return err
		}
		if status != nil {
			sess.OnRunModeChange = func(mode dm.RunMode) {
				status.OnRunModeChange(mode, sess.XLen, false, "", 0)
			}
		}
		return sess.Run()
	}

	srv, err := transport.Listen(cfg.Session.ListenAddr, handler)
	checkf(err, "listening on %s", cfg.Session.ListenAddr)
	log.ModCLI.InfoZ("listening").String("addr", srv.Addr().String()).End()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return srv.Serve(gctx) })
	if status != nil {
		g.Go(func() error { return status.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		fatalf("rvdbg exited with error: %v", err)
	}
}

// nullTransport satisfies dm.Transport without a real Debug Module; the
// back end itself already no-ops every primitive until Init, so this is
// only reached if Init is called against it, in which case DMI access
// simply fails loudly rather than hanging.
type nullTransport struct{}

func (nullTransport) DMIRead(addr uint16) (uint32, error) {
	return 0, errNoTransport{}
}

func (nullTransport) DMIWrite(addr uint16, value uint32) error {
	return errNoTransport{}
}

type errNoTransport struct{}

func (errNoTransport) Error() string { return "no DMI transport configured (set RVDBG_DMI_ADDR)" }
