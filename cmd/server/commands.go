package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/ingest"
	"github.com/your-org/docconv/internal/usecases"
)

var (
	cfgFile        string
	convertDeliver bool
	convertEmbed   bool
)

var rootCmd = &cobra.Command{
	Use:   "docconv",
	Short: "Document conversion service",
	Long: `docconv normalizes PDF, DOCX and XLSX documents, alone or inside ZIP/RAR archives,
into rendered artifacts and forwards them to a webhook consumer.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a local document or archive and print the JSON report",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $APP_CONFIG_PATH or config.yaml)")

	convertCmd.Flags().BoolVar(&convertDeliver, "deliver", false, "post the result to the configured webhook")
	convertCmd.Flags().BoolVar(&convertEmbed, "embed", false, "include base64 entry contents in archive reports")

	rootCmd.AddCommand(serveCmd, convertCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func runServe(cmd *cobra.Command, _ []string) error {
	app := NewApp(cfgFile)
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	app.logger.Info("shutdown signal received")
	return app.Shutdown()
}

func runConvert(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	app := NewApp(cfgFile)
	app.disableDelivery = !convertDeliver
	if err := app.Initialize(); err != nil {
		return err
	}
	defer app.Shutdown()

	if convertDeliver && !app.config.WebhookEnabled() {
		app.logger.Warn("--deliver given but no webhook url is configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upload := domain.Upload{Filename: filepath.Base(path), Data: data, Class: classFor(path)}
	app.logger.Debug("converting local file",
		zap.String("path", path),
		zap.String("class", upload.Class.String()),
	)

	// a failed conversion still prints its report before the error
	report, convErr := convertUpload(ctx, app.usecase, upload)
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return convErr
}

func convertUpload(ctx context.Context, uc *usecases.DocumentUsecase, upload domain.Upload) (any, error) {
	if upload.Class != domain.ClassArchive {
		report, err := uc.UploadAndProcess(ctx, upload)
		if report == nil {
			return nil, err
		}
		return report, err
	}

	report, err := uc.ProcessArchive(ctx, upload, usecases.ArchiveOptions{IncludeContent: convertEmbed})
	if err != nil {
		return nil, err
	}
	if convertEmbed {
		usecases.EmbedContent(report)
	}
	return report, nil
}

func classFor(path string) domain.FileClass {
	if ingest.Allowed(ingest.ExtensionOf(path), domain.ClassArchive) {
		return domain.ClassArchive
	}
	return domain.ClassDocument
}
