package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadang/cua/internal/adapter"
	"github.com/wadang/cua/internal/agentbuild"
	"github.com/wadang/cua/internal/computerport"
	"github.com/wadang/cua/internal/config"
	"github.com/wadang/cua/internal/llm"
	"github.com/wadang/cua/internal/session"
	"github.com/wadang/cua/internal/transport"
	transporthttp "github.com/wadang/cua/internal/transport/http"
	transportws "github.com/wadang/cua/internal/transport/ws"
)

var errInterrupted = errors.New("interrupted")

const shutdownGrace = 30 * time.Second

var serveFlags struct {
	mode      string
	host      string
	port      int
	peerID    string
	poolSize  int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dual-transport proxy surface (HTTP and/or P2P data channel)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.mode, "mode", "http", "transport mode: http, p2p, or both")
	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "listen host (overrides config default)")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (overrides config default)")
	serveCmd.Flags().StringVar(&serveFlags.peerID, "peer-id", "", "advertised peer id for the p2p data-channel transport")
	serveCmd.Flags().IntVar(&serveFlags.poolSize, "pool-size", 0, "computer pool size (overrides config default)")
}

func runServe(cmd *cobra.Command, args []string) error {
	switch serveFlags.mode {
	case "http", "p2p", "both":
	default:
		return usageError{reason: "serve: --mode must be one of http, p2p, both"}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveFlags.host != "" {
		cfg.HTTPHost = serveFlags.host
	}
	if serveFlags.port != 0 {
		cfg.HTTPPort = serveFlags.port
	}
	if serveFlags.poolSize != 0 {
		cfg.PoolSize = serveFlags.poolSize
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provisioner := session.DefaultProvisioner{Mode: computerport.ModeFromEnv()}
	pool := session.NewComputerPool(provisioner, cfg.PoolSize)
	defer pool.Shutdown(context.Background())

	sessions := session.NewManager(pool, cfg.IdleTimeout)
	sessions.StartSweep(0)
	defer sessions.StopSweep()

	buildAdapter := func(model llm.ModelString, computer computerport.Computer, env map[string]string) (adapter.Adapter, error) {
		return agentbuild.Build(cfg, model, computer, config.NewEnvSnapshot(cfg, env))
	}
	dispatch := transport.NewDispatcher(sessions, buildAdapter, cfg.SaveTrajectoryDir, cfg.ContainerName)

	var servers []*http.Server

	if serveFlags.mode == "http" || serveFlags.mode == "both" {
		hs := transporthttp.NewServer(dispatch)
		addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
		srv := &http.Server{Addr: addr, Handler: hs.Echo()}
		servers = append(servers, srv)
		go func() {
			fmt.Println(okStyle.Render("http transport listening on " + addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintln(os.Stderr, errStyle.Render("http serve: "+err.Error()))
			}
		}()
	}

	if serveFlags.mode == "p2p" || serveFlags.mode == "both" {
		ws := transportws.NewServer(dispatch)
		mux := http.NewServeMux()
		mux.HandleFunc("/responses/ws", ws.Handle)
		addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort+1)
		srv := &http.Server{Addr: addr, Handler: mux}
		servers = append(servers, srv)
		go func() {
			label := serveFlags.peerID
			if label == "" {
				label = addr
			}
			fmt.Println(okStyle.Render("p2p data-channel transport listening on " + addr + " (peer " + label + ")"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintln(os.Stderr, errStyle.Render("p2p serve: "+err.Error()))
			}
		}()
	}

	<-ctx.Done()
	fmt.Println(dimStyle.Render("shutting down..."))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, errStyle.Render("shutdown: "+err.Error()))
		}
	}
	return errInterrupted
}
