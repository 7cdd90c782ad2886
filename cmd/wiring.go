package cmd

import (
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rageval/src/core/accuracy"
	"rageval/src/core/scorer"
	"rageval/src/infrastructure/integrations/ollama"
	"rageval/src/infrastructure/integrations/openai"
	"rageval/src/metrics"
	"rageval/src/storage/minioctrl"
	"rageval/src/storage/postgres/accuracyctrl"
	"rageval/src/storage/postgres/datasetctrl"
)

// engine bundles the collaborators every command builds
type engine struct {
	db       *gorm.DB
	metrics  *metrics.Metrics
	dataset  *datasetctrl.DatasetService
	service  *accuracy.Service
	archiver *minioctrl.SummaryArchiver
}

func openDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"),
	)
	level := logger.Warn
	if viper.GetBool("log.development") {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return db, nil
}

func newEngine(reg prometheus.Registerer) (*engine, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(viper.GetInt64("snowflake.node"))
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	e := &engine{
		db:      db,
		metrics: metrics.New(reg),
		dataset: datasetctrl.NewDatasetService(db),
	}

	opts := []accuracy.Option{
		accuracy.WithMetrics(e.metrics),
		accuracy.WithSnowflakeNode(node),
	}
	if viper.GetBool("minio.enabled") {
		minioService, err := minioctrl.NewMinioService(
			viper.GetString("minio.endpoint"),
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetBool("minio.use_ssl"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio service: %v", err)
		}
		e.archiver = minioctrl.NewSummaryArchiver(minioService, viper.GetString("minio.archive_bucket"))
		opts = append(opts, accuracy.WithCompletionHook(e.archiver))
	}

	e.service, err = accuracy.NewService(accuracyctrl.New(db), e.dataset, e.dataset, opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (e *engine) close() {
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (e *engine) newScorer() (*scorer.Scorer, error) {
	judge, err := newJudge()
	if err != nil {
		return nil, err
	}
	return scorer.New(judge,
		scorer.WithPause(viper.GetDuration("scorer.pause")),
		scorer.WithMetrics(e.metrics),
	), nil
}

// newJudge picks the completion backend named by judge.provider
func newJudge() (scorer.Judge, error) {
	model := viper.GetString("judge.model")
	switch provider := viper.GetString("judge.provider"); provider {
	case "ollama":
		client := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{})
		return scorer.NewLLMJudge(client, model), nil
	case "openai":
		client := openai.NewClient(openai.Config{
			APIKey:  viper.GetString("openai.api_key"),
			BaseURL: viper.GetString("openai.base_url"),
		})
		return scorer.NewLLMJudge(client, model), nil
	default:
		return nil, fmt.Errorf("unknown judge provider %q", provider)
	}
}
