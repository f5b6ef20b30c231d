package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"AVES-backend/internal/ledger"
	"AVES-backend/internal/platform/auth"
	"AVES-backend/internal/platform/db"
	"AVES-backend/internal/platform/snapshot"
	"AVES-backend/internal/session"
	"AVES-backend/internal/token"
	"AVES-backend/internal/verify"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	// 状態の組み立てと復元
	snaps := snapshot.NewStore(conn)
	sessionStore := session.NewStore(snaps)
	ledgerStore := ledger.NewStore(snaps)

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sessionStore.Restore(restoreCtx); err != nil {
		cancelRestore()
		panic(err)
	}
	if err := ledgerStore.Restore(restoreCtx); err != nil {
		cancelRestore()
		panic(err)
	}
	cancelRestore()
	log.Printf("[INFO] state restored: %d classes", len(sessionStore.Classes()))

	codec := token.NewCodec([]byte(cfg.Token.Secret))
	authSvc := auth.NewService(conn, []byte(cfg.Auth.Secret))
	sessionSvc := session.NewService(sessionStore, codec,
		cfg.Token.RotationWindowSeconds, cfg.Token.LateThresholdMinutes)
	ledgerSvc := ledger.NewService(ledgerStore)
	verifySvc := verify.NewService(codec, sessionStore, ledgerStore)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1")
	protected := r.Group("/api/v1")
	protected.Use(auth.RequireAuth(authSvc.Secret()))

	auth.RegisterRoutes(api, protected, authSvc)
	session.RegisterRoutes(api, protected, sessionSvc)
	ledger.RegisterRoutes(api, protected, ledgerSvc)
	verify.RegisterRoutes(api, protected, verifySvc)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	var certFile, keyFile string

	// TLS設定
	if mode == "dev" {
		//開発用
		certFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Key)
	} else {
		//本番用
		certFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Key)
	}

	go func() {
		log.Printf("[INFO] listening on https://0.0.0.0%s", cfg.Addr)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
