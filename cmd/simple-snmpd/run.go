package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/simpledaemons/simple-snmpd/internal/config"
	"github.com/simpledaemons/simple-snmpd/internal/health"
	"github.com/simpledaemons/simple-snmpd/internal/logging"
	"github.com/simpledaemons/simple-snmpd/internal/metrics"
	"github.com/simpledaemons/simple-snmpd/internal/pdu"
	"github.com/simpledaemons/simple-snmpd/internal/platform"
	"github.com/simpledaemons/simple-snmpd/internal/server"
	"github.com/simpledaemons/simple-snmpd/internal/trap"
)

// daemonChecker wires health.Checker to the running server and agent
// state: healthz is unconditional, readyz additionally requires the UDP
// socket to be bound and the MIB/USM/VACM tables to have loaded at least
// once.
type daemonChecker struct {
	srv          *server.Server
	tablesLoaded atomic.Bool
}

func (c *daemonChecker) Bound() bool {
	select {
	case <-c.srv.Ready():
		return true
	default:
		return false
	}
}

func (c *daemonChecker) TablesLoaded() bool { return c.tablesLoaded.Load() }

func runDaemon() error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Format: logging.ParseFormat(cfg.LogFormat),
		Level:  logging.ParseLevel(cfg.LogLevel),
	})

	info, err := platform.Collect()
	if err != nil {
		return fmt.Errorf("collect platform info: %w", err)
	}

	boots, err := loadAndIncrementBoots(cfg.StateFilePath)
	if err != nil {
		return err
	}

	ag, err := buildAgent(cfg, info, boots)
	if err != nil {
		return err
	}
	logAgentSummary(logger, cfg, ag.usmMgr.EngineID())

	snmpMetrics := metrics.New()
	daemonMetrics := metrics.NewDaemon(time.Now())

	trapSender := &trap.Sender{
		Community: cfg.Community,
		V3:        ag.v3Proc,
		Logger:    logging.ForComponent(logger, "trap"),
	}

	srv := server.New(server.Deps{
		Registry:   ag.registry,
		Dispatcher: ag.dispatcher,
		Security:   ag.secFront,
		VACM:       ag.vacmMgr,
		USM:        ag.usmMgr,
		V3:         ag.v3Proc,
		Metrics:    snmpMetrics,
		Logger:     logging.ForComponent(logger, "server"),
		OnAuthFailure: func(sourceIP string) {
			for _, dest := range cfg.TrapDestinations {
				if err := trapSender.SendAuthenticationFailure(dest, pdu.VersionV2c, 0); err != nil {
					trapSender.Logger.Warn("failed to send authenticationFailure notification",
						"dest", dest, "source_ip", sourceIP, "error", err)
				}
			}
		},
	})

	checker := &daemonChecker{srv: srv}
	checker.tablesLoaded.Store(true)

	var healthSrv *health.Server
	if cfg.HealthPort != 0 {
		healthSrv = health.New(fmt.Sprintf(":%d", cfg.HealthPort), checker, daemonMetrics,
			logging.ForComponent(logger, "health"))
	}

	var trapReceiver *trap.Receiver
	trapStop := make(chan struct{})
	if cfg.EnableTrap {
		trapReceiver = &trap.Receiver{
			V3:      ag.v3Proc,
			Metrics: snmpMetrics,
			Logger:  logging.ForComponent(logger, "trap"),
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	signal.Ignore(syscall.SIGPIPE)

	errCh := make(chan error, 3)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			errCh <- fmt.Errorf("listen %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	if healthSrv != nil {
		go func() {
			if err := healthSrv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("health endpoint: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	if trapReceiver != nil {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.TrapPort)
			if err := trapReceiver.ListenAndServe(addr, trapStop); err != nil {
				errCh <- fmt.Errorf("trap receiver %s: %w", addr, err)
				return
			}
			errCh <- nil
		}()
	}

	go func() {
		<-srv.Ready()
		sendStartupTraps(trapSender, cfg.TrapDestinations, info)
	}()

runLoop:
	for {
		select {
		case <-hupCh:
			reload(logger, ag, &cfg)
		case <-ctx.Done():
			break runLoop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if healthSrv != nil {
		_ = healthSrv.Shutdown(shutdownCtx)
	}
	close(trapStop)

	if err := waitForServer(errCh); err != nil {
		return &runtimeFatalError{err: err}
	}
	return nil
}

// waitForServer drains the first reported error, if any, giving
// ListenAndServe's own cleanup (drawn out by the reader/worker shutdown
// sequence) time to finish.
func waitForServer(errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		return nil
	}
}

func sendStartupTraps(sender *trap.Sender, destinations []string, info platform.Info) {
	uptime := uint32(info.Uptime(time.Now()).Seconds() * 100)
	for _, dest := range destinations {
		if err := sender.SendColdStart(dest, pdu.VersionV2c, uptime); err != nil {
			sender.Logger.Warn("failed to send startup notification", "dest", dest, "error", err)
		}
	}
}

// reload implements the SIGHUP path: a fresh agent is built from the
// configuration file's current contents (the same engineBoots, never
// re-incremented by a reload) and its MIB/USM/VACM/security tables are
// swapped into the running agent under each table's own writer lock, so
// no in-flight request ever sees a half-updated table.
func reload(logger *slog.Logger, ag *agent, cfg *config.Configuration) {
	newCfg, err := loadConfiguration()
	if err != nil {
		logger.Warn("configuration reload failed, keeping previous configuration", "error", err)
		return
	}
	info, err := platform.Collect()
	if err != nil {
		logger.Warn("configuration reload failed to collect platform info", "error", err)
		return
	}
	fresh, err := buildAgent(newCfg, info, ag.usmMgr.EngineBoots())
	if err != nil {
		logger.Warn("configuration reload failed to build new tables, keeping previous configuration", "error", err)
		return
	}

	ag.registry.Replace(fresh.registry)
	ag.vacmMgr.Replace(fresh.vacmMgr)
	ag.usmMgr.ReplaceUsers(fresh.usmMgr)
	ag.secFront.Replace(fresh.secFront)
	*cfg = newCfg
	logger.Info("configuration reloaded")
}
