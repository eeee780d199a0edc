// Package main serves the QRescue routes from AWS Lambda behind an HTTP API.
// Instances share nothing, so the service runs stateless and records
// locations inline.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/app"
	"github.com/dharsanguruparan/QRescue/internal/config"
	"github.com/dharsanguruparan/QRescue/internal/lambdaapi"
	"github.com/dharsanguruparan/QRescue/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.DeployMode = config.ModeStateless
	cfg.LocationDispatch = config.DispatchInline
	if cfg.PhotoBackend == config.PhotosDisk {
		// /tmp is the only writable path in the Lambda sandbox.
		cfg.PhotoDir = os.TempDir() + "/qrescue-photos"
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "qrescue-lambda")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.Build(context.Background(), cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("init app", zap.Error(err))
	}
	lambda.Start(lambdaapi.Adapt(a.Handler()))
}
