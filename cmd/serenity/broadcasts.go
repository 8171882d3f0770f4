package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/value"
	"github.com/rzpsarthak13/serenity/pkg/serenity"
)

var broadcastsCmd = &cobra.Command{
	Use:   "broadcasts",
	Short: "Follow the broadcast table and print new messages",
	Long: `Broadcasts polls __broadcasts, republishes every new message on the
configured queue (memory, redis or kafka) and prints what it receives back.
Without --from it starts at the current end of the table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetInt64("from")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		queue, err := client.NewBroadcastQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

		workers := serenity.NewWorkerManager()
		workers.Add(serenity.NewBroadcastPoller(client, queue, from))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runWorkers(ctx, workers) })
		g.Go(func() error {
			return printBroadcasts(ctx, cmd.OutOrStdout(), queue, client.Config().Broadcast)
		})
		serveMetrics(ctx, g, client)
		return g.Wait()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the session cleaner and the broadcast poller until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Close()

		queue, err := client.NewBroadcastQueue()
		if err != nil {
			return err
		}
		defer queue.Close()

		workers := serenity.NewWorkerManager()
		workers.Add(serenity.NewSessionCleaner(client))
		workers.Add(serenity.NewBroadcastPoller(client, queue, 0))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runWorkers(ctx, workers) })
		serveMetrics(ctx, g, client)
		return g.Wait()
	},
}

func init() {
	broadcastsCmd.Flags().Int64("from", 0, "last broadcast id already seen")
}

func runWorkers(ctx context.Context, workers *serenity.WorkerManager) error {
	if err := workers.StartAll(ctx); err != nil {
		workers.StopAll()
		return err
	}
	<-ctx.Done()
	return workers.StopAll()
}

func printBroadcasts(ctx context.Context, w io.Writer, queue core.BroadcastQueue, cfg serenity.BroadcastConfig) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		msgs, err := queue.Receive(ctx, cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.WithError(err).Warn("receive failed")
			continue
		}
		for _, m := range msgs {
			payload, err := value.Decode(m.Payload)
			if err != nil {
				payload = fmt.Sprintf("%x", m.Payload)
			}
			fmt.Fprintf(w, "%d\t%d\t%v\n", m.Seq, m.Date, payload)
		}
	}
}

// serveMetrics adds the metrics listener to g when --metrics-addr is set.
func serveMetrics(ctx context.Context, g *errgroup.Group, client *serenity.Client) {
	addr := viper.GetString(keyMetricsAddr)
	collector := client.Collector()
	if addr == "" || collector == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logrus.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
}
