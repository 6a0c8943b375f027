package main

import (
	"fmt"
	"time"

	"transcoding_service/pkg/database"

	"github.com/spf13/cobra"
)

const workerHealthService = "transcode.worker"

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var service string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a worker's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				deps, err := ctx.ensureDeps()
				if err != nil {
					return err
				}
				if deps.Cfg.GRPC.Port == "" {
					return fmt.Errorf("--addr is required when grpc.port is not configured")
				}
				addr = "127.0.0.1:" + deps.Cfg.GRPC.Port
			}

			conn, err := database.CreateGRPCClient(cmd.Context(), addr, timeout)
			if err != nil {
				return err
			}
			defer conn.Close()

			status, err := database.CheckHealth(cmd.Context(), conn, service)
			if err != nil {
				return fmt.Errorf("health check %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", addr, status)
			if status != "SERVING" {
				return fmt.Errorf("worker at %s is %s", addr, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Worker health address, defaults to 127.0.0.1:<grpc.port>")
	cmd.Flags().StringVar(&service, "service", workerHealthService, "Health service name")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Connect timeout")
	return cmd
}
