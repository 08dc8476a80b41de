package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/jun/gophvault/internal/app"
	"github.com/jun/gophvault/internal/config"
	"github.com/jun/gophvault/internal/logging"
)

// Unlocked sessions live only as long as the warm container; after a cold
// start clients get 401 and must unlock again.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	application, err := app.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	lambda.Start(application.HandleRequest)
}
