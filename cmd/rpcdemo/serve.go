package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/c0c0bird/easynetq-go/rpc"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a responder for PingRequest until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			broker, pub, con, err := dialBroker(brokerAddr, log)
			if err != nil {
				return err
			}
			defer broker.Close()
			defer func() { _ = con.Close() }()
			defer func() { _ = pub.Close() }()

			bus := rpc.New(broker, rpc.WithLogger(log), rpc.WithResponderConcurrency(8))
			defer func() { _ = bus.Close() }()

			count := 0
			closer, err := rpc.Respond[PingRequest, PingResponse](bus, func(_ context.Context, req PingRequest, _ rpc.Headers) (PingResponse, error) {
				count++
				log.WithField("message", req.Message).Info("handling ping")
				return PingResponse{Message: req.Message, Count: count}, nil
			})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			log.Info("responder ready, waiting for requests (ctrl-c to stop)")
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			log.Info("shutting down")
			return nil
		},
	}
}
