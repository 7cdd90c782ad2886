/*
Copyright © 2024 Dean
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpHdlr "rageval/handler/http"
	jobctrl "rageval/src/infrastructure/job"
	"rageval/src/log"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the accuracy evaluation API server",
	Long:  `The serve command starts an HTTP server exposing accuracy tests, item results and human review assignments.`,
	RunE:  RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-queue", false, "Do not publish AI evaluation jobs")
}

func RunServer(cmd *cobra.Command, args []string) error {
	noQueue, _ := cmd.Flags().GetBool("no-queue")

	e, err := newEngine(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer e.close()

	var queue httpHdlr.AIEvaluationQueue
	if !noQueue {
		amqpPublisher, err := amqp.NewPublisher(
			amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
			log.WatermillLogger(),
		)
		if err != nil {
			return fmt.Errorf("failed to create amqp publisher: %w", err)
		}
		defer amqpPublisher.Close()

		jobRepo := jobctrl.NewPostgresJobRepository(e.db)
		queue = jobctrl.NewJobService(amqpPublisher, jobRepo, log.WatermillLogger(), nil)
	}

	// Setup gin router
	if !viper.GetBool("log.development") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	httpHdlr.NewAccuracyHandler(e.service, queue).RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Info("Invalid shutdown timeout, using default 5s", "error", err.Error())
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}
