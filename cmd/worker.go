package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	jobctrl "rageval/src/infrastructure/job"
	"rageval/src/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the AI evaluation job worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := log.WatermillLogger()

	e, err := newEngine(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer e.close()

	sc, err := e.newScorer()
	if err != nil {
		return err
	}

	// Initialize AMQP publisher
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		logger,
	)
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	// Initialize AMQP subscriber
	subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	subscriberConfig.Consume.NoRequeueOnNack = true
	amqpSubscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	// Initialize router
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	evaluationTask := jobctrl.NewEvaluationTask(e.service, e.dataset, e.dataset, sc)

	jobRepo := jobctrl.NewPostgresJobRepository(e.db)
	jobService := jobctrl.NewJobService(amqpPublisher, jobRepo, logger, evaluationTask)

	router.AddNoPublisherHandler(
		"accuracy_job_processor",
		jobctrl.Topic,
		amqpSubscriber,
		jobService.ProcessJobMessage,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(ctx)
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("job router stopped: %w", err)
		}
		return nil
	}

	log.Info("Shutting down...")
	cancel()
	if err := <-errCh; err != nil {
		log.Error(err, "Router stopped with error")
	}
	log.Info("Router stopped")
	return nil
}
