package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ckd-backend/internal/artifact"
	"ckd-backend/internal/config"
	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/logging"
	"ckd-backend/internal/metrics"
	"ckd-backend/internal/ml"
	"ckd-backend/internal/models"
	"ckd-backend/internal/notify"
	"ckd-backend/internal/repository"
	"ckd-backend/internal/server"
	"ckd-backend/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds everything built from the configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sqlx.DB
	registry *artifact.Registry
	metrics  *metrics.Metrics
	services server.Services
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// cliActor runs CLI operations with admin rights.
var cliActor = service.Actor{Role: models.RoleAdmin}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	store, err := artifact.NewStore(cfg.Artifacts.Dir, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	a.metrics = metrics.New()
	model, err := store.LoadCurrent()
	switch {
	case err == nil:
		logger.Info("Model loaded", zap.String("version", model.Version), zap.String("family", model.Family()))
		a.metrics.SetModel(true, model.Accuracy)
	case errors.Is(err, artifact.ErrNoArtifact):
		logger.Info("No trained model yet; predictions use the rule engine only")
		model = nil
	default:
		logger.Warn("Failed to load model; predictions use the rule engine only", zap.Error(err))
		model = nil
	}
	a.registry = artifact.NewRegistry(model)

	progress, err := a.progressStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("Failed to initialize Telegram notifier, continuing without it", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	users := repository.NewUserRepository(db, logger)
	records := repository.NewPatientRecordRepository(db, logger)
	logs := repository.NewRetrainLogRepository(db, logger)
	hasher := service.NewPasswordHasher(service.DefaultArgon2Params())
	pipeline := diagnosis.NewPipeline(
		diagnosis.NewRiskEvaluator(cfg.Policy.Thresholds),
		diagnosis.OverridePolicy{MinFlags: cfg.Policy.OverrideMinFlags},
	)

	t := cfg.Training
	retrainOpts := service.RetrainOptions{
		Family:    t.Family,
		Seed:      t.Seed,
		Balance:   t.Balance,
		TestRatio: t.TestRatio,
		HyperParams: ml.HyperParams{
			Trees:        t.Trees,
			MaxDepth:     t.MaxDepth,
			Rounds:       t.Rounds,
			LearningRate: t.LearningRate,
			Epochs:       t.Epochs,
			BatchSize:    t.BatchSize,
			Hidden:       t.Hidden,
			RemoteURL:    cfg.RemoteModel.URL,
		},
		KeepVersions: cfg.Artifacts.KeepVersions,
	}

	auth := service.NewAuthService(users, hasher, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	a.services = server.Services{
		Auth:       auth,
		Users:      service.NewUserService(users, hasher, logger),
		Records:    service.NewRecordService(records, logger),
		Import:     service.NewImportService(records, hasher, logger),
		Prediction: service.NewPredictionService(records, logs, a.registry, store, pipeline, a.metrics, logger),
		Retrain:    service.NewRetrainService(records, logs, store, a.registry, progress, notifier, a.metrics, retrainOpts, logger),
	}
	return a, nil
}

func (a *app) progressStore() (artifact.ProgressStore, error) {
	p := a.cfg.Progress
	if p.Backend != "redis" {
		return artifact.NewFileProgress(a.cfg.Artifacts.Dir), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     p.Redis.Addr,
		Password: p.Redis.Password,
		DB:       p.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.logger.Info("Retrain progress stored in Redis", zap.String("addr", p.Redis.Addr))
	return artifact.NewRedisProgress(client, p.Redis.Key, p.Redis.TTL), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "ckd-backend",
		Short:        "Chronic kidney disease decision-support API",
		SilenceUsage: true,
	}
	defaultConfig := os.Getenv("CKD_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to the YAML config file (empty for env only)")

	withApp := func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, a, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run migrations and start the HTTP server",
			RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
				if err := repository.MigrateDB(a.db, a.logger); err != nil {
					return err
				}
				srv := server.NewServer(a.services, a.db, a.registry, a.metrics, a.cfg.Server.Mode, a.logger)
				if err := srv.Run(ctx, ":"+a.cfg.Server.Port); err != nil {
					return err
				}
				a.logger.Info("Application stopped.")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			RunE: withApp(func(_ context.Context, a *app, _ []string) error {
				return repository.MigrateDB(a.db, a.logger)
			}),
		},
		&cobra.Command{
			Use:   "retrain",
			Short: "Fit a new model on the current patient records",
			RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
				res, err := a.services.Retrain.Retrain(ctx, cliActor)
				if err != nil {
					return err
				}
				return printJSON(res)
			}),
		},
		newImportCmd(withApp),
		newCreateAdminCmd(withApp),
	)
	return root
}

type appRunner func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error

func newImportCmd(withApp appRunner) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace all patients with the rows of a CSV or XLSX file",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.services.Import.Import(ctx, cliActor, file, f)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "dataset file (.csv or .xlsx)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCreateAdminCmd(withApp appRunner) *cobra.Command {
	var in service.RegisterInput
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the single admin account",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.services.Auth.RegisterAdmin(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(user)
		}),
	}
	cmd.Flags().StringVar(&in.Username, "username", "admin", "admin username")
	cmd.Flags().StringVar(&in.Email, "email", "", "admin email")
	cmd.Flags().StringVar(&in.Password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
