package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/analysis"
	"github.com/intelligrit/quakesafe/internal/objects"
	"github.com/intelligrit/quakesafe/internal/store"
	"github.com/intelligrit/quakesafe/internal/web"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the backend API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("host") {
			serveHost = cfg.Server.Host
		}
		if !cmd.Flags().Changed("port") {
			servePort = cfg.Server.Port
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := store.New(dataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		objs, err := objects.New(cfg.Storage)
		if err != nil {
			return err
		}
		if err := objs.EnsureBucket(ctx); err != nil {
			return err
		}

		analyzer, err := analysis.NewClient(cfg.Analysis.Model, cfg.Analysis.MaxTokens)
		if err != nil {
			return err
		}

		srv := &web.Server{
			Store:          s,
			Objects:        objs,
			Analyzer:       analyzer,
			Addr:           fmt.Sprintf("%s:%d", serveHost, servePort),
			MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
			PresignExpiry:  cfg.Storage.PresignExpiry.Duration,
		}
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 8000, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}
