package main

import (
	"fmt"
	"net/http"
	"os"

	"stock-trader-go/internal/config"
	"stock-trader-go/internal/database"
	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/logger"
	"stock-trader-go/internal/oracle"
	"stock-trader-go/internal/trader"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	initialCash, err := decimal.NewFromString(cfg.Trading.InitialCash)
	if err != nil || initialCash.IsNegative() {
		log.Fatal("Invalid initial_cash in configuration", zap.String("initial_cash", cfg.Trading.InitialCash))
	}

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Wire the core: ledger store, price oracle, executor, valuator.
	store := ledger.NewStore(db, log.Named("ledger"))
	priceOracle := oracle.NewClient(&cfg.Oracle, log.Named("oracle"))
	executor := trader.NewExecutor(log.Named("executor"), priceOracle, store)
	valuator := trader.NewValuator(log.Named("valuator"), priceOracle, store)

	// Setup HTTP server
	mux := http.NewServeMux()

	apiHandler := NewAPIHandler(log.Named("api"), store, executor, valuator, initialCash)

	// API endpoints
	mux.HandleFunc("/api/register", apiHandler.RegisterHandler)
	mux.HandleFunc("/api/trade", apiHandler.TradeHandler)
	mux.HandleFunc("/api/portfolio", apiHandler.PortfolioHandler)
	mux.HandleFunc("/api/trades", apiHandler.TradesHandler)
	mux.HandleFunc("/api/symbols", apiHandler.SymbolsHandler)
	mux.HandleFunc("/api/cash", apiHandler.AddCashHandler)
	mux.HandleFunc("/health", apiHandler.HealthHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting web server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}
