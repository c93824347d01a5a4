// Command gateway runs the exam grading and integrity engine behind its
// HTTP API.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	api "github.com/examguard/examguard/internal/api/http"
	"github.com/examguard/examguard/internal/auth"
	"github.com/examguard/examguard/internal/config"
	"github.com/examguard/examguard/internal/db"
	"github.com/examguard/examguard/internal/exam"
	"github.com/examguard/examguard/internal/grading"
	"github.com/examguard/examguard/internal/integrity"
	"github.com/examguard/examguard/internal/logging"
	"github.com/examguard/examguard/internal/plagiarism"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	store := exam.NewSQLStore(dbh)

	grader := buildGrader(cfg.Grading, logger)

	scorer, err := integrity.NewScorer(cfg.Integrity)
	if err != nil {
		logger.Fatal("integrity weights", zap.Error(err))
	}
	scanner := plagiarism.NewScanner(cfg.Plagiarism.Threshold)

	svc := exam.NewService(store, grader, scorer, scanner,
		exam.WithLogger(logger.Named("exam")))

	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.Users)
	router := api.NewRouter(svc, authSvc, cfg.Server.CORSOrigins)

	logger.Info("listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("db", cfg.Database.Driver),
		zap.String("grading_backend", cfg.Grading.Backend))
	if err := http.ListenAndServe(cfg.Server.Addr, router); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildGrader(cfg config.GradingConfig, logger *zap.Logger) grading.Grader {
	reference := grading.NewReferenceGrader()
	if cfg.Backend != "llm" {
		return reference
	}
	return grading.NewLLMGrader(cfg.BaseURL, cfg.OpenAIKey, cfg.Model,
		time.Duration(cfg.TimeoutSeconds)*time.Second, reference,
		logger.Named("grading"))
}
