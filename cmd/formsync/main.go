package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rpattn/formsync/internal/config"
	"github.com/rpattn/formsync/internal/domain"
	"github.com/rpattn/formsync/internal/formmodel"
	"github.com/rpattn/formsync/internal/iaso"
	"github.com/rpattn/formsync/internal/ingestion"
	"github.com/rpattn/formsync/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	configPath string

	formID    int64
	projectID int64
	inputPath string
	strategy  string
	outputDir string
	strict    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "formsync",
	Short: "formsync reconciles tabular submission files against an IASO server",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import form submissions from a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		settings, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if settings.ServerURL == "" || settings.Username == "" || settings.Password == "" {
			return errors.New("server_url, username and password must be configured")
		}

		importStrategy, err := domain.ParseStrategy(strategy)
		if err != nil {
			return err
		}

		client := iaso.NewClient(settings.ServerURL, settings.Username, settings.Password,
			iaso.WithTimeout(settings.Timeout))
		if err := client.Authenticate(ctx); err != nil {
			return err
		}
		logger.Info("authenticated", zap.String("server", settings.ServerURL))

		appID, err := client.GetAppID(ctx, projectID)
		if err != nil {
			return fmt.Errorf("resolve project %d: %w", projectID, err)
		}
		allowed, err := client.HasSubmissionPermission(ctx, appID)
		if err != nil {
			return fmt.Errorf("check permissions: %w", err)
		}
		if !allowed {
			return fmt.Errorf("user lacks the submission permission for application %s", appID)
		}

		forms := formmodel.NewLoader(client, formID)
		info, err := forms.Info(ctx)
		if err != nil {
			return err
		}
		logger.Info("form resolved", zap.String("name", info.Name), zap.Int64("form_id", formID))

		file, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open submission file: %w", err)
		}
		defer file.Close()

		rows, err := ingestion.ReadFile(inputPath, file)
		if err != nil {
			return fmt.Errorf("read submission file: %w", err)
		}
		logger.Info("submission file read", zap.Int("rows", len(rows)))

		base := outputDir
		if base == "" {
			base = settings.OutputDir
		}
		if base == "" {
			base = pipeline.DefaultOutputDir(info.Name)
		}

		run := pipeline.New(forms, client, pipeline.NewWriter(base), logger, pipeline.Options{
			Strategy:         importStrategy,
			StrictValidation: strict,
			AppID:            appID,
			FormID:           formID,
			UserID:           client.UserID(),
		})

		summary, err := run.Run(ctx, rows)
		if err != nil {
			return err
		}

		out, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	importCmd.Flags().Int64Var(&formID, "form-id", 0, "IASO form identifier")
	importCmd.Flags().Int64Var(&projectID, "project", 0, "IASO project identifier")
	importCmd.Flags().StringVar(&inputPath, "input", "", "submission file (.csv or .xlsx)")
	importCmd.Flags().StringVar(&strategy, "strategy", string(domain.StrategyCreate),
		"import strategy: CREATE, UPDATE, CREATE_AND_UPDATE or DELETE")
	importCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for generated documents and the run summary")
	importCmd.Flags().BoolVar(&strict, "strict", false, "enforce full schema and constraint validation")
	_ = importCmd.MarkFlagRequired("form-id")
	_ = importCmd.MarkFlagRequired("project")
	_ = importCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
