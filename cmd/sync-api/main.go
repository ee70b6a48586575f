package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"marketsync/internal/app"
	"marketsync/internal/handlers"
)

func main() {
	ctx := context.Background()

	a, err := app.New(ctx, "sync-api")
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	s, err := a.Syncer(ctx)
	if err != nil {
		log.Fatalf("init syncer: %v", err)
	}

	h := handlers.NewIntegrationsHandler(a.Integrations, s, a.Flush, a.Logger)
	lambda.Start(h.Handle)
}
