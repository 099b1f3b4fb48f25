// Command session-expiry is a Lambda function subscribed to the session
// table's stream. It logs every session the TTL sweeper deletes.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/singletable/stream"
)

type config struct {
	LogLevel slog.Level `conf:"default:INFO"`

	// BatchFailures must match the function's ReportBatchItemFailures
	// setting on the event source mapping.
	BatchFailures bool `conf:"default:true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	help, err := conf.Parse("SESSION_EXPIRY", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	h := stream.NewHandler(nil, logger)

	logger.Info("starting", "batchFailures", cfg.BatchFailures)
	if cfg.BatchFailures {
		lambda.Start(h.HandleExpirationsBatch)
	} else {
		lambda.Start(h.HandleExpirations)
	}
	return nil
}
