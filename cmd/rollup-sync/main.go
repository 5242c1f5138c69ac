package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/logger"
)

func main() {
	var (
		userID  string
		timeout time.Duration
	)
	flag.StringVar(&userID, "user", "", "Rebuild a single user's rollup instead of every user")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rollups := repository.NewMembershipRepository(db)
	svc := service.NewMembershipService(
		rollups,
		repository.NewProgramRepository(db),
		repository.NewCourseRepository(db),
		repository.NewUserRepository(db),
		service.NewMembershipProjector(rollups, logr),
		db,
		logr,
	)

	if userID != "" {
		result, err := svc.SyncStudent(ctx, userID)
		if err != nil {
			log.Fatalf("sync %s failed: %v", userID, err)
		}
		logr.Info("rollup rebuilt",
			zap.String("user_id", result.UserID),
			zap.Int("degrees_kept", result.DegreesKept),
			zap.Int("degrees_dropped", result.DegreesDropped),
			zap.Int("courses_kept", result.CoursesKept),
			zap.Int("courses_dropped", result.CoursesDropped),
		)
		return
	}

	summary, err := svc.MigrateAll(ctx)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logr.Info("rollup migration finished",
		zap.Int("users", summary.Users),
		zap.Int("failed", summary.Failed),
		zap.Int("degrees_kept", summary.DegreesKept),
		zap.Int("degrees_dropped", summary.DegreesDropped),
		zap.Int("courses_kept", summary.CoursesKept),
		zap.Int("courses_dropped", summary.CoursesDropped),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
