package main

import (
	"context"
	"fmt"
	"time"

	"github.com/c0c0bird/easynetq-go/rpc"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var message string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Dispatch a single PingRequest and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			broker, pub, con, err := dialBroker(brokerAddr, log)
			if err != nil {
				return err
			}
			defer broker.Close()
			defer func() { _ = con.Close() }()
			defer func() { _ = pub.Close() }()

			bus := rpc.New(broker, rpc.WithLogger(log), rpc.WithTimeout(timeout))
			defer func() { _ = bus.Close() }()

			resp, err := rpc.Request[PingRequest, PingResponse](context.Background(), bus, PingRequest{Message: message})
			if err != nil {
				return err
			}
			fmt.Printf("reply: %q (count=%d)\n", resp.Message, resp.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "hello", "message to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
