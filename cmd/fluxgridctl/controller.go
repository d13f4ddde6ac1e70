package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/fluxgrid/fluxgrid/pkg/distributor"
	"github.com/fluxgrid/fluxgrid/pkg/log"
	"github.com/fluxgrid/fluxgrid/pkg/metrics"
	"github.com/fluxgrid/fluxgrid/pkg/rpc"
	"github.com/fluxgrid/fluxgrid/pkg/scheduler"
	"github.com/fluxgrid/fluxgrid/pkg/types"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the fluxgrid controller",
}

var controllerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the controller's placement scheduler and RPC front end",
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, _ := cmd.Flags().GetString("variant")
		addr, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		capacity, _ := cmd.Flags().GetInt("capacity")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		rootfsImage, _ := cmd.Flags().GetString("rootfs-image")

		sched, err := buildScheduler(variant, capacity, containerdSocket, rootfsImage)
		if err != nil {
			return fmt.Errorf("building scheduler: %w", err)
		}

		srv := &controllerServer{sched: sched}

		grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.ErrorTranslatingInterceptor()))
		grpcServer.RegisterService(&rpc.ControllerServiceDesc, srv)
		grpcServer.RegisterService(&rpc.SchedulerServiceDesc, srv)

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
		log.Logger.Info().Str("addr", addr).Str("variant", variant).Msg("controller listening")

		collector := metrics.NewCollector(sched)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion(Version)
		metrics.SetCriticalComponents("scheduler", "rpc")
		metrics.RegisterComponent("scheduler", true, variant)
		metrics.RegisterComponent("rpc", true, addr)

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			return err
		}

		grpcServer.GracefulStop()
		return nil
	},
}

func buildScheduler(variant string, capacity int, containerdSocket, rootfsImage string) (scheduler.Scheduler, error) {
	switch variant {
	case "process":
		return scheduler.NewProcessScheduler(capacity), nil
	case "node":
		dist, err := distributor.NewGCSDistributor(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating artifact distributor: %w", err)
		}
		return scheduler.NewNodeScheduler(rpc.NewClient(), dist), nil
	case "container":
		return scheduler.NewContainerScheduler(containerdSocket, rootfsImage, capacity)
	default:
		return nil, fmt.Errorf("unknown scheduler variant %q, want process|node|container", variant)
	}
}

func init() {
	controllerCmd.AddCommand(controllerRunCmd)

	controllerRunCmd.Flags().String("variant", "process", "Scheduler variant: process, node, or container")
	controllerRunCmd.Flags().String("addr", "127.0.0.1:7000", "RPC listen address")
	controllerRunCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health listen address")
	controllerRunCmd.Flags().Int("capacity", 16, "Local task-slot capacity for the process and container variants")
	controllerRunCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path (container variant)")
	controllerRunCmd.Flags().String("rootfs-image", "", "Container rootfs image reference (container variant)")
}

// controllerServer adapts a scheduler.Scheduler to both the node-agent
// facing ControllerServer RPCs and the CLI-facing SchedulerServer RPCs.
type controllerServer struct {
	sched scheduler.Scheduler
}

func (s *controllerServer) RegisterNode(ctx context.Context, req *types.RegisterNodeReq) (*rpc.Ack, error) {
	s.sched.RegisterNode(*req)
	return new(rpc.Ack), nil
}

func (s *controllerServer) HeartbeatNode(ctx context.Context, req *types.HeartbeatNodeReq) (*rpc.Ack, error) {
	if err := s.sched.HeartbeatNode(*req); err != nil {
		return nil, err
	}
	return new(rpc.Ack), nil
}

func (s *controllerServer) WorkerFinished(ctx context.Context, req *types.WorkerFinishedReq) (*rpc.Ack, error) {
	s.sched.WorkerFinished(*req)
	return new(rpc.Ack), nil
}

func (s *controllerServer) StartPipeline(ctx context.Context, req *types.StartPipelineReq) (*rpc.StartPipelineResp, error) {
	ids, err := s.sched.StartWorkers(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &rpc.StartPipelineResp{WorkerIDs: ids}, nil
}

func (s *controllerServer) StopPipeline(ctx context.Context, req *rpc.StopPipelineReq) (*rpc.Ack, error) {
	if err := s.sched.StopWorkers(ctx, req.JobID, req.RunID, req.Force); err != nil {
		return nil, err
	}
	return new(rpc.Ack), nil
}

func (s *controllerServer) WorkersForJob(ctx context.Context, req *rpc.WorkersForJobReq) (*rpc.WorkersForJobResp, error) {
	return &rpc.WorkersForJobResp{WorkerIDs: s.sched.WorkersForJob(req.JobID, req.RunID)}, nil
}
