package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/metrics"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/oplog"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/webhook"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/webhookapi"
	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "paywebhookd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "paywebhookd",
		Short:         "PayPal webhook receiver and purchase ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	registerStorageFlags(cmd)
	registerServeFlags(cmd)
	cmd.AddCommand(newAuditCommand())
	return cmd
}

func newAuditCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:          "audit",
		Short:        "Check that a buyer's balance equals the sum of their ledger credits",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadAuditConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), cmd, cfg)
		},
	}
	registerStorageFlags(cmd)
	cmd.Flags().String(flagBuyerID, "", "buyer id to audit (required)")
	return cmd
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage open: %w", err)
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewPrometheusObserver("", registry)
	if err != nil {
		return err
	}

	service, err := newPurchaseService(store, logger)
	if err != nil {
		return err
	}
	verifier, err := webhookapi.NewVerifier(cfg.API, observer)
	if err != nil {
		return fmt.Errorf("signature verifier init: %w", err)
	}
	processor, err := webhook.NewProcessor(verifier, service, logger,
		webhook.WithStoreTimeout(cfg.API.StoreTimeout),
		webhook.WithObserver(observer),
	)
	if err != nil {
		return fmt.Errorf("webhook processor init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterLedgerQueryService(grpcServer, grpcserver.NewLedgerQueryServer(service))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return webhookapi.Run(groupCtx, cfg.API, webhookapi.Dependencies{
			Processor: processor,
			Ledger:    service,
			Gatherer:  registry,
			Logger:    logger,
		})
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

func runAudit(ctx context.Context, cmd *cobra.Command, cfg *runtimeConfig) error {
	buyerID, err := purchase.NewBuyerID(cfg.BuyerID)
	if err != nil {
		return err
	}
	store, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage open: %w", err)
	}
	defer cleanup()

	service, err := purchase.NewService(store, clock)
	if err != nil {
		return err
	}
	report, err := service.Audit(ctx, buyerID)
	if err != nil && !errors.Is(err, purchase.ErrBalanceMismatch) {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "buyer=%s balance=%d ledger=%d transactions=%d consistent=%t\n",
		report.BuyerID, report.CreditBalance, report.LedgerCredits, report.TransactionCount, report.Consistent())
	return err
}

func newPurchaseService(store purchase.Store, logger *zap.Logger) (*purchase.Service, error) {
	service, err := purchase.NewService(store, clock, purchase.WithOperationLogger(oplog.NewZapOperationLogger(logger)))
	if err != nil {
		return nil, fmt.Errorf("purchase service init: %w", err)
	}
	return service, nil
}

func clock() int64 {
	return time.Now().UTC().Unix()
}
