package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/agent"
	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	httpserver "github.com/fyrsmithlabs/agentd/internal/http"
	"github.com/fyrsmithlabs/agentd/internal/ledger"
	"github.com/fyrsmithlabs/agentd/internal/validate"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	// Wire the coordinator with both adapters
	enterprise, err := agent.NewEnterprise(agent.EnterpriseConfig{
		URL: "https://agents.example.com/v1/run",
	})
	if err != nil {
		panic(err)
	}

	validator, err := validate.New(validate.Options{})
	if err != nil {
		panic(err)
	}

	coord, err := coordinator.New(
		coordinator.Config{
			DefaultMode:      "fallback",
			DefaultThreshold: 0.8,
			BudgetDefault:    ledger.MustDollars(1.00),
			BudgetMax:        ledger.MustDollars(5.00),
			FallbackMin:      ledger.MustDollars(0.10),
		},
		[]agent.Agent{enterprise, agent.NewFallback(agent.FallbackConfig{})},
		ledger.New(nil),
		validator,
	)
	if err != nil {
		panic(err)
	}

	// Create logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Configure the server
	cfg := &httpserver.Config{
		Host: "localhost",
		Port: 9090,
	}

	// Create the server
	server, err := httpserver.NewServer(coord, logger, cfg)
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
