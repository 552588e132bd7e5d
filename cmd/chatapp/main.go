// Command chatapp is the single entry point for both roles: `-s <port>`
// starts the directory server, `-c <name> <server-ip> <server-port>
// <client-port>` starts a client (spec.md §6). This dispatch-by-flag shape,
// and the bare print-err-and-exit(1) idiom on startup failure, follow the
// teacher's udpchat/server/main.go and udpchat/client/main.go, collapsed
// into one binary with two subcommands instead of two separate mains.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/neverchanje/chatapp/internal/cliargs"
	"github.com/neverchanje/chatapp/internal/clientcore"
	"github.com/neverchanje/chatapp/internal/logging"
	"github.com/neverchanje/chatapp/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	result, err := cliargs.Parse(args)
	if err != nil {
		if help, ok := cliargs.IsHelpRequested(err); ok {
			fmt.Println(help.Message)
			return 0
		}
		fmt.Println(err)
		return 1
	}

	log := logging.New()
	defer log.Sync()

	if result.Mode == cliargs.ModeServer {
		return runServer(log, result.Server)
	}
	return runClient(log, result.Client)
}

// runServer starts the directory server, mounting its Prometheus metrics on
// port+1 (SPEC_FULL.md's ambient metrics section), and blocks until an
// interrupt stops it.
func runServer(log *zap.Logger, opts cliargs.ServerOpts) int {
	srv, err := server.New(opts.Port, log)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", srv.Metrics().Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", opts.Port+1), Handler: mux}
	go metricsSrv.ListenAndServe()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		srv.Stop()
	}()

	srv.Run(ctx)
	metricsSrv.Close()
	return 0
}

// runClient starts a client, installing a signal handler for the silent-leave
// shutdown path (spec.md §4.6) alongside the notified-leave path reachable
// from the `dereg <own-name>` command.
func runClient(log *zap.Logger, opts cliargs.ClientOpts) int {
	cl, err := clientcore.New(opts.Name, opts.ServerIP, opts.ServerPort, opts.ClientPort, log)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cl.SilentLeave()
	}()

	if err := cl.Run(context.Background()); err != nil {
		return 1
	}
	return 0
}
