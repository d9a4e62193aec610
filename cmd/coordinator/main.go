// Command coordinator runs the central registry: one persistent
// request/response stream per connected peer, textual commands, a single
// coarse-grained mutual-exclusion domain over all registry state.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swarmkeep/internal/adminhttp"
	"swarmkeep/internal/registry"
)

func main() {
	var (
		listenAddr string
		adminAddr  string
		devLog     bool
	)

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the swarmkeep coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, adminAddr, devLog)
		},
	}
	root.Flags().StringVar(&listenAddr, "listen", ":9000", "coordinator listen address")
	root.Flags().StringVar(&adminAddr, "admin-listen", "", "optional admin HTTP address (metrics/health); empty disables it")
	root.Flags().BoolVar(&devLog, "dev-log", false, "use human-readable development logging instead of JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(listenAddr, adminAddr string, devLog bool) error {
	log, err := newLogger(devLog)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, err := registry.New(log)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	defer reg.Close()

	var admin *adminhttp.Server
	if adminAddr != "" {
		metrics := adminhttp.NewMetrics(nil)
		reg.SetRecorder(metrics)
		admin = adminhttp.New(adminAddr, log)
		admin.Start()
		log.Info("admin http listening", zap.String("addr", adminAddr))
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	log.Info("coordinator listening", zap.String("addr", listenAddr))

	server := registry.NewServer(reg, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("shutdown requested")
		ln.Close()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			log.Error("accept loop exited", zap.Error(err))
		}
	}

	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(ctx); err != nil {
			log.Warn("admin http shutdown", zap.Error(err))
		}
	}
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
