package main

import (
	"context"
	"errors"
	"io"
	"log"
	"lovia/src/boot"
	"lovia/src/common"
	"lovia/src/db"
	"lovia/src/middlewares"
	"lovia/src/models"
	"lovia/src/types"
	"net/http"
	"os"
	"path"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	apiPrefix       string = "/api/v1"
	shutdownTimeout        = 15 * time.Second
)

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	router.GET("/healthz", func(ctx *gin.Context) {
		c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(c); err != nil {
			log.Printf("[Health] Database unreachable: %s\n", err.Error())
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unreachable"})
			return
		}
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		mm := os.Getenv("MAINTENANCE_MODE")
		on, err := strconv.ParseBool(mm)
		if mm != "" && (err != nil || on) {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		types.RegisterValidators(v)
	}
}

// publicRoutes are reachable without a token: gateway notifications,
// the LINE Pay return legs and status polling.
func publicRoutes(g *gin.Engine, payments *common.Payments, siteURL string) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	webhookHandlers(apiv1, payments)
	publicOrderHandlers(apiv1, payments, siteURL)
	return apiv1
}

func authorizedRoutes(g *gin.Engine, payments *common.Payments, qrcodes qrCodeUploader) *gin.RouterGroup {
	authorized := g.Group(apiPrefix)
	authorized.Use(middlewares.AuthMiddleware)
	{
		authorized.GET("/me", func(ctx *gin.Context) {
			var user models.User
			if err := db.GetDb().
				Model(&models.User{}).
				Select("id", "name", "email", "role").
				Where(&models.User{ID: ctx.GetUint("id")}).
				First(&user).
				Error; err != nil {
				log.Printf("Error retrieving user: %s\n", err.Error())
				ctx.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": user})
		})

		authorized = orderHandlers(authorized, payments, qrcodes)

		admin := authorized.Group("/admin", middlewares.RequireRole("admin"))
		settingHandlers(admin)
	}
	return authorized
}

func initLogger() {
	cwd, _ := os.Getwd()
	logDir := path.Join(cwd, "logs")
	serverLogs := path.Join(logDir, "server.log")
	apiLogs := path.Join(logDir, "api.log")
	gin.ForceConsoleColor()

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Error creating log directory: %s\n", err.Error())
	}
	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}))
}

func corsMiddleware(apiEnv, appHost string) gin.HandlerFunc {
	if types.Environment(apiEnv) == types.Local {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
	cc.AllowOriginFunc = func(origin string) bool {
		if appHost == "" {
			return false
		}
		match, _ := regexp.MatchString("^"+regexp.QuoteMeta(appHost)+"$", origin)
		return match
	}
	cc.AllowCredentials = true
	cc.AllowAllOrigins = false
	return cors.New(cc)
}

// serve runs srv until listen fails or ctx is done, then drains in-flight
// requests before returning.
func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	errc := make(chan error, 1)
	go func() {
		errc <- listen()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if types.Environment(apiEnv) == types.Local {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
	}
	initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot.InitDb()
	cfg := boot.LoadPaymentConfig(ctx)
	payments := boot.InitPayments(ctx, cfg)
	boot.InitScheduler(payments, cfg)

	var qrcodes qrCodeUploader
	if bucket := boot.InitQRCodeBucket(ctx); bucket != nil {
		qrcodes = bucket
	}

	router := setupRouter()
	router.Use(corsMiddleware(apiEnv, os.Getenv("APP_HOST")))
	registerValidators()

	router = maintenanceModeMiddleware(router)

	publicRoutes(router, payments, cfg.SiteURL)
	authorizedRoutes(router, payments, qrcodes)

	srv := &http.Server{
		Addr:              ":9090",
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listen := srv.ListenAndServe
	if os.Getenv("TLS_ENABLE") == "true" {
		cwd, _ := os.Getwd()
		certpath := path.Join(cwd, "certificates", "localhost.pem")
		keypath := path.Join(cwd, "certificates", "localhost-key.pem")
		listen = func() error {
			return srv.ListenAndServeTLS(certpath, keypath)
		}
	}

	err := serve(ctx, srv, listen)
	boot.Shutdown()
	if err != nil {
		log.Fatalf("Server stopped: %s", err)
	}
}
