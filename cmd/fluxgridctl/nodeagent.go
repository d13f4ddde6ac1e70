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
	"google.golang.org/grpc"

	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/nodeagent"
	"github.com/fluxgrid/fluxgrid/pkg/rpc"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

var nodeAgentCmd = &cobra.Command{
	Use:   "node-agent",
	Short: "Node agent operations",
}

var nodeAgentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node agent and register with the controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetUint64("node-id")
		addr, _ := cmd.Flags().GetString("addr")
		controllerAddr, _ := cmd.Flags().GetString("controller")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		slots, _ := cmd.Flags().GetInt("slots")

		controller, err := rpc.DialController(controllerAddr)
		if err != nil {
			return fmt.Errorf("dialing controller: %w", err)
		}
		defer controller.Close()

		agent := nodeagent.NewAgent(types.NodeID(nodeID), dataDir, controller)

		grpcServer := grpc.NewServer()
		grpcServer.RegisterService(&rpc.NodeAgentServiceDesc, agent)

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		log.Logger.Info().Str("addr", addr).Uint64("node_id", nodeID).Msg("node agent listening")

		registerCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := controller.RegisterNode(registerCtx, types.RegisterNodeReq{
			NodeID:    types.NodeID(nodeID),
			TaskSlots: slots,
			Addr:      addr,
		}); err != nil {
			return fmt.Errorf("registering with controller: %w", err)
		}

		heartbeat := time.NewTicker(10 * time.Second)
		defer heartbeat.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-heartbeat.C:
				hbCtx, hbCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := controller.HeartbeatNode(hbCtx, types.HeartbeatNodeReq{NodeID: types.NodeID(nodeID)}); err != nil {
					log.Logger.Warn().Err(err).Msg("heartbeat failed")
				}
				hbCancel()
			case <-sigCh:
				log.Logger.Info().Msg("shutting down")
				grpcServer.GracefulStop()
				return nil
			case err := <-errCh:
				return err
			}
		}
	},
}

func init() {
	nodeAgentCmd.AddCommand(nodeAgentRunCmd)

	nodeAgentRunCmd.Flags().Uint64("node-id", 1, "This node's id")
	nodeAgentRunCmd.Flags().String("addr", "127.0.0.1:7500", "RPC listen address for StartWorker/StopWorker")
	nodeAgentRunCmd.Flags().String("controller", "127.0.0.1:7000", "Controller RPC address")
	nodeAgentRunCmd.Flags().String("data-dir", "./fluxgrid-node-data", "Directory for materialized pipeline binaries")
	nodeAgentRunCmd.Flags().Int("slots", 16, "Task-slot capacity to advertise")
}
