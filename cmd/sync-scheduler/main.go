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

	a, err := app.New(ctx, "sync-scheduler")
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	s, err := a.Syncer(ctx)
	if err != nil {
		log.Fatalf("init syncer: %v", err)
	}

	sc := a.Config.Scheduler
	h := handlers.NewScheduledSync(a.Integrations, s, a.Flush, sc.Concurrency, sc.Timeout, a.Logger)
	lambda.Start(h.Handle)
}
