package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/josephschmitt/maestro/internal/agent"
	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/ipc"
	"github.com/josephschmitt/maestro/internal/store"
	"github.com/josephschmitt/maestro/internal/webserver"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the supervision daemon",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("config", "", "Path to config.toml (default ~/.maestro/config.toml)")
	daemonCmd.Flags().Bool("qr", false, "Print a QR code for the HTTP URL")
	daemonCmd.Flags().Bool("no-mdns", false, "Disable LAN announcement of the HTTP port")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	// Fatal setup errors abort the process with a nonzero exit.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	state := config.NewState(cfg, configPath)

	basePath := state.BasePath()
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return fmt.Errorf("resolving base path %s: %w", basePath, err)
	}

	if err := agent.LoadUserPrompts(agent.DefaultUserPromptsPath()); err != nil {
		fmt.Fprintf(os.Stderr, "%swarning:%s %v\n", colorYellow, colorReset, err)
	}

	bus := events.NewBus()
	supervisor := agent.NewSupervisor(state, bus, agent.NewRegistry())

	// Reconcile persisted state before any new supervision begins.
	result := supervisor.Reconcile()
	for _, r := range result.Reattached {
		fmt.Printf("%sre-attached%s workspace %s (pid %d, passive)\n", colorCyan, colorReset, r.WorkspaceID, r.PID)
	}
	if len(result.Crashed) > 0 {
		fmt.Printf("%s%d workspace(s) crashed while the daemon was down:%s\n", colorYellow, len(result.Crashed), colorReset)
		for _, c := range result.Crashed {
			fmt.Printf("  %s (card %s)\n", c.WorkspaceID, c.CardID)
		}
	}

	// One IPC socket per existing project.
	ipcServers := make(map[string]*ipc.Server)
	projectIDs, err := store.ProjectDirs(basePath)
	if err != nil {
		return fmt.Errorf("scanning projects: %w", err)
	}
	for _, projectID := range projectIDs {
		srv, err := ipc.Start(basePath, projectID, bus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%swarning:%s ipc socket for %s: %v\n", colorYellow, colorReset, projectID, err)
			continue
		}
		ipcServers[projectID] = srv
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go supervisor.RunMonitor(ctx)

	var web *webserver.Server
	var announcer *webserver.Announcer
	httpCfg := state.Snapshot().HTTPServer
	if httpCfg.Enabled {
		web = webserver.New(state, bus, supervisor, ipcServers, webserver.Options{
			Host:      httpCfg.BindAddress,
			Port:      httpCfg.Port,
			AuthToken: httpCfg.AuthToken,
		})
		if err := web.Start(); err != nil {
			return fmt.Errorf("starting http server: %w", err)
		}
		fmt.Printf("%smaestro daemon%s listening on %s\n", styleBoldCyan, colorReset, web.URL())

		if noMDNS, _ := cmd.Flags().GetBool("no-mdns"); !noMDNS {
			announcer = webserver.Announce(web.Port())
		}
		if showQR, _ := cmd.Flags().GetBool("qr"); showQR {
			printURLQR(web.URL())
		}
	} else {
		fmt.Printf("%smaestro daemon%s running (http server disabled)\n", styleBoldCyan, colorReset)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\n%sshutting down%s (%s)\n", colorDim, colorReset, sig)
	debug.LogKV("daemon", "shutdown signal", "signal", sig.String())

	cancel()
	announcer.Shutdown()
	if web != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		web.Shutdown(shutdownCtx)
	}
	supervisor.StopAll()
	for _, srv := range ipcServers {
		srv.Stop()
	}

	return nil
}

// printURLQR renders a terminal QR code so a phone can reach the daemon.
func printURLQR(url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("%s%s%s\n", colorDim, url, colorReset)
}
