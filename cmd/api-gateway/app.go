package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type application struct {
	cfg    *config.Config
	logger *zap.Logger
	queue  *jobs.Queue

	users   *repository.UserRepository
	metrics *service.MetricsService
	auth    *service.AuthService

	authHandler       *handler.AuthHandler
	userHandler       *handler.UserHandler
	catalogHandler    *handler.CatalogHandler
	materialHandler   *handler.MaterialHandler
	requestHandler    *handler.RequestHandler
	membershipHandler *handler.MembershipHandler
	rosterHandler     *handler.RosterHandler
	metricsHandler    *handler.MetricsHandler
}

func newApplication(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	files, err := storage.NewLocalStorage(cfg.Materials.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Materials.SignedURLSecret, cfg.Materials.SignedURLTTL)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && redisClient != nil)
	projector := service.NewMembershipProjector(membershipRepo, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)

	catalogSvc := service.NewCatalogService(
		programRepo, courseRepo, enrollmentRepo, requestRepo, projector, userRepo, db, validate, logr,
		service.WithCatalogCache(cacheSvc),
		service.WithCatalogFiles(files),
		service.WithCatalogAudit(userRepo),
	)

	requestSvc := service.NewRequestService(
		requestRepo, userRepo, programRepo, courseRepo, membershipRepo, db, userRepo, validate, logr,
		service.WithRequestAppliers(service.DefaultRequestAppliers(programRepo, courseRepo, enrollmentRepo, projector)),
		service.WithRequestMetrics(metrics),
		service.WithRequestCache(cacheSvc),
	)

	materialSvc := service.NewMaterialService(courseRepo, programRepo, membershipRepo, files, signer, cacheSvc, service.MaterialConfig{
		MaxFileSizeBytes: cfg.Materials.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Materials.AllowedMIMEs,
		DownloadPath:     cfg.APIPrefix + "/materials/download",
	}, validate, logr)

	var membershipSvc *service.MembershipService
	queue := jobs.NewQueue("rollup-sync", func(ctx context.Context, job jobs.Job) error {
		return membershipSvc.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Memberships.SyncWorkers,
		MaxRetries: cfg.Memberships.SyncRetries,
		RetryDelay: cfg.Memberships.SyncRetryDelay,
		Logger:     logr,
	})
	membershipSvc = service.NewMembershipService(
		membershipRepo, programRepo, courseRepo, userRepo, projector, db, logr,
		service.WithMembershipMetrics(metrics),
		service.WithMembershipQueue(queue),
	)

	exportSvc := service.NewExportService(enrollmentRepo, programRepo, logr, export.NewCSVExporter(), export.NewPDFExporter())

	probes := map[string]handler.ReadinessProbe{
		"postgres": func(ctx context.Context) error { return database.Ready(ctx, db, 2*time.Second) },
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	return &application{
		cfg:     cfg,
		logger:  logr,
		queue:   queue,
		users:   userRepo,
		metrics: metrics,
		auth:    authSvc,

		authHandler:       handler.NewAuthHandler(authSvc, userSvc),
		userHandler:       handler.NewUserHandler(userSvc),
		catalogHandler:    handler.NewCatalogHandler(catalogSvc),
		materialHandler:   handler.NewMaterialHandler(materialSvc),
		requestHandler:    handler.NewRequestHandler(requestSvc),
		membershipHandler: handler.NewMembershipHandler(membershipSvc),
		rosterHandler:     handler.NewRosterHandler(exportSvc),
		metricsHandler:    handler.NewMetricsHandler(metrics, probes),
	}, nil
}

func (a *application) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(a.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics, "/metrics", "/health"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", a.metricsHandler.Health)
	r.GET("/ready", a.metricsHandler.Ready)
	r.GET("/metrics", a.metricsHandler.Prometheus)
	if a.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := string(models.RoleAdmin)
	lecturer := string(models.RoleLecturer)
	student := string(models.RoleStudent)

	api := r.Group(a.cfg.APIPrefix)
	authed := middleware.JWT(a.auth)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", a.authHandler.Register)
	authGroup.POST("/login", a.authHandler.Login)
	authGroup.POST("/refresh", a.authHandler.Refresh)
	authGroup.POST("/logout", authed, a.authHandler.Logout)
	authGroup.POST("/change-password", authed, a.authHandler.ChangePassword)
	authGroup.GET("/me", authed, a.authHandler.Me)

	users := api.Group("/users", authed)
	users.GET("", middleware.RBAC(admin), a.userHandler.List)
	users.POST("", middleware.RBAC(admin), a.userHandler.Create)
	users.GET("/:id", middleware.RBAC(admin, middleware.SelfAccess), a.userHandler.Get)
	users.PATCH("/:id/verify", middleware.RBAC(admin), a.userHandler.SetVerified)

	programs := api.Group("/programs")
	programs.GET("", a.catalogHandler.ListPrograms)
	programs.GET("/:id", a.catalogHandler.GetProgram)
	programs.GET("/:id/courses", a.catalogHandler.ListCourses)
	programWrite := middleware.Audit(a.users, models.AuditActionProgramWrite, "degree_programs")
	lecturerWrite := middleware.Audit(a.users, models.AuditActionLecturerAssign, "degree_programs")
	programs.POST("", authed, middleware.RBAC(admin), programWrite, a.catalogHandler.CreateProgram)
	programs.PUT("/:id", authed, middleware.RBAC(admin), programWrite, a.catalogHandler.UpdateProgram)
	programs.DELETE("/:id", authed, middleware.RBAC(admin), a.catalogHandler.DeleteProgram)
	programs.POST("/:id/lecturers", authed, middleware.RBAC(admin), lecturerWrite, a.catalogHandler.AddLecturer)
	programs.DELETE("/:id/lecturers/:userId", authed, middleware.RBAC(admin), lecturerWrite, a.catalogHandler.RemoveLecturer)
	programs.GET("/:id/roster", authed, middleware.RBAC(admin, lecturer), a.rosterHandler.Roster)
	if a.cfg.Exports.Enabled {
		programs.GET("/:id/roster/export", authed, middleware.RBAC(admin, lecturer), a.rosterHandler.Export)
	}

	courses := api.Group("/courses")
	courses.GET("/:id", a.catalogHandler.GetCourse)
	courseWrite := middleware.Audit(a.users, models.AuditActionCourseWrite, "courses")
	materialWrite := middleware.Audit(a.users, models.AuditActionMaterialWrite, "courses")
	courses.POST("", authed, middleware.RBAC(admin, lecturer), courseWrite, a.catalogHandler.CreateCourse)
	courses.PUT("/:id", authed, middleware.RBAC(admin, lecturer), courseWrite, a.catalogHandler.UpdateCourse)
	courses.DELETE("/:id", authed, middleware.RBAC(admin, lecturer), a.catalogHandler.DeleteCourse)
	courses.POST("/:id/materials/files", authed, middleware.RBAC(admin, lecturer), materialWrite, a.materialHandler.Upload)
	courses.POST("/:id/materials/links", authed, middleware.RBAC(admin, lecturer), materialWrite, a.materialHandler.AddLink)
	courses.DELETE("/:id/materials/:materialId", authed, middleware.RBAC(admin, lecturer), materialWrite, a.materialHandler.Remove)

	materials := api.Group("/materials")
	materials.GET("/download/:id", a.materialHandler.Download)
	materials.GET("/:id/download", authed, a.materialHandler.DownloadURL)

	notifications := api.Group("/notifications", authed)
	notifications.POST("/enrollment-request", middleware.RBAC(student), a.requestHandler.EnrollmentRequest)
	notifications.POST("/teach-request", middleware.RBAC(lecturer), a.requestHandler.TeachRequest)
	notifications.POST("/handle-request", middleware.RBAC(admin, lecturer), a.requestHandler.HandleRequest)
	notifications.GET("/admin", middleware.RBAC(admin), a.requestHandler.ApproverInbox)
	notifications.GET("/lecturer", middleware.RBAC(lecturer), a.requestHandler.ApproverInbox)
	notifications.GET("/student", middleware.RBAC(student), a.requestHandler.RequesterInbox)
	notifications.DELETE("/:id", a.requestHandler.Delete)

	enrollments := api.Group("/enrollments", authed)
	enrollments.POST("/course-request", middleware.RBAC(student), a.requestHandler.CourseRequest)
	enrollments.POST("/handle-request", middleware.RBAC(admin, lecturer), a.requestHandler.HandleRequest)
	enrollments.GET("/requests", a.requestHandler.CourseRequests)
	enrollments.GET("/my-courses", a.membershipHandler.MyCourses)

	memberships := api.Group("/memberships", authed)
	memberships.GET("/my-programs", a.membershipHandler.MyPrograms)
	memberships.POST("/sync", middleware.RBAC(admin), a.membershipHandler.SyncAll)
	memberships.POST("/sync/:userId", middleware.RBAC(admin), a.membershipHandler.SyncStudent)
	memberships.GET("/jobs/:id", middleware.RBAC(admin), a.membershipHandler.SyncJob)

	api.GET("/metrics/summary", authed, middleware.RBAC(admin), a.metricsHandler.Summary)

	return r
}
