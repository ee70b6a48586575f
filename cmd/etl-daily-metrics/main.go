package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"marketsync/internal/app"
)

func main() {
	ctx := context.Background()

	a, err := app.New(ctx, "etl-daily-metrics")
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	h, err := a.Export()
	if err != nil {
		log.Fatalf("init export: %v", err)
	}
	lambda.Start(h.Handle)
}
