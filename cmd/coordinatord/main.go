// Command coordinatord is the host-side AMP coordinator daemon: it owns
// every managed remote-processor client's lifecycle, shared-memory
// transport and bound services, and exposes the control plane's UNIX
// sockets for coordctl (or any other client) to drive. Adapted from
// cmd/aegisd/main.go's init order: config -> registry -> lifecycle
// manager (with state changes persisted back to the registry) -> start the
// control plane -> restore previously known clients -> write a pid
// file -> wait for a shutdown signal -> tear everything down in reverse.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/openeuler-mirror/coordinatord/internal/config"
	"github.com/openeuler-mirror/coordinatord/internal/controlplane"
	"github.com/openeuler-mirror/coordinatord/internal/coordinator"
	"github.com/openeuler-mirror/coordinatord/internal/registry"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger := log.New(os.Stdout, "coordinatord: ", log.LstdFlags)
	logger.Printf("starting coordinatord %s", version.Version())

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		logger.Fatalf("create runtime directories: %v", err)
	}
	cfg.ResolveBinaries()

	db, err := registry.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("open client registry: %v", err)
	}
	defer db.Close()

	mgr := coordinator.NewManager()
	mgr.OnStateChange(func(id string, state rproc.State) {
		if err := db.UpdateState(id, state.String()); err != nil {
			logger.Printf("persist state for %s: %v", id, err)
		}
	})

	coord := newDaemonCoordinator(cfg, mgr, db, logger)

	ctl := controlplane.New(cfg.SocketDir, coord, logger)
	if err := ctl.Start(); err != nil {
		logger.Fatalf("start control plane: %v", err)
	}

	restoreClients(coord, ctl, db, logger)

	if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		logger.Printf("write pid file: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Printf("received %s, shutting down", sig)

	shutdown(coord, mgr, ctl, cfg, logger)
}

// restoreClients reconstructs every client the registry remembers from a
// previous run, bringing each back to Configured so its control-plane
// socket is live again; a client that was Running before the daemon
// stopped is also re-started, mirroring aegisd's own instance-restoration
// loop over saved registry.Instance records.
func restoreClients(coord *daemonCoordinator, ctl *controlplane.Server, db *registry.DB, logger *log.Logger) {
	records, err := db.ListClients()
	if err != nil {
		logger.Printf("list saved clients: %v", err)
		return
	}

	for _, rec := range records {
		if err := coord.Create(rec.Name, rec.CPU, rec.FirmwarePath); err != nil {
			logger.Printf("restore client %s: %v", rec.Name, err)
			continue
		}
		if err := ctl.RegisterClient(rec.Name); err != nil {
			logger.Printf("restore client %s: register socket: %v", rec.Name, err)
			continue
		}
		if rec.State == rproc.StateRunning.String() {
			if err := coord.Start(rec.Name); err != nil {
				logger.Printf("restore client %s: start: %v", rec.Name, err)
			}
		}
		logger.Printf("restored client %s from registry", rec.Name)
	}
}

func shutdown(coord *daemonCoordinator, mgr *coordinator.Manager, ctl *controlplane.Server, cfg *config.Config, logger *log.Logger) {
	ctl.Stop()

	for _, name := range coord.names() {
		coord.destroy(name)
	}
	mgr.Shutdown()

	if err := os.Remove(cfg.PIDFile); err != nil && !os.IsNotExist(err) {
		logger.Printf("remove pid file: %v", err)
	}
	fmt.Fprintln(os.Stdout, "coordinatord: stopped")
}
