package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/platewatch/platewatch/internal/api"
	"github.com/platewatch/platewatch/internal/cleanup"
	"github.com/platewatch/platewatch/internal/detect"
	"github.com/platewatch/platewatch/internal/exporters/prometheus"
	"github.com/platewatch/platewatch/internal/objstore"
	"github.com/platewatch/platewatch/internal/ocr"
	"github.com/platewatch/platewatch/pkg/auth"
	"github.com/platewatch/platewatch/pkg/bandwidth"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/ratelimit"
	"github.com/platewatch/platewatch/pkg/shutdown"
	"github.com/platewatch/platewatch/pkg/store"
	tlsutil "github.com/platewatch/platewatch/pkg/tls"
	"github.com/platewatch/platewatch/pkg/tracing"
)

func main() {
	tlsCert := flag.String("tls-cert", "", "TLS certificate file (TLS disabled when empty)")
	tlsKey := flag.String("tls-key", "", "TLS private key file")
	generateCert := flag.Bool("generate-cert", false, "Generate a self-signed certificate pair and exit")
	flag.Parse()

	cfg := api.ConfigFromEnv()

	log, err := logging.NewFileLogger("lprd", logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	if err != nil {
		log = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
		log.Warn("file logging unavailable, logging to stdout only", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if *generateCert {
		certFile, keyFile := *tlsCert, *tlsKey
		if certFile == "" {
			certFile = "certs/lprd.crt"
		}
		if keyFile == "" {
			keyFile = "certs/lprd.key"
		}
		if err := os.MkdirAll(filepath.Dir(certFile), 0o755); err != nil {
			log.Fatal("create cert directory", map[string]interface{}{"error": err.Error()})
		}
		if err := tlsutil.GenerateSelfSignedCert(certFile, keyFile, "lprd"); err != nil {
			log.Fatal("generate certificate", map[string]interface{}{"error": err.Error()})
		}
		log.Info("self-signed certificate generated", map[string]interface{}{
			"cert": certFile,
			"key":  keyFile,
		})
		return
	}

	log.Info("starting license plate recognition service", map[string]interface{}{
		"version": api.Version,
		"port":    cfg.Port,
	})

	st, err := store.NewFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open record store", map[string]interface{}{"error": err.Error()})
	}
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, records are held in memory and will not survive restarts")
	}

	ctx := context.Background()

	images, err := objstore.New(ctx, objstore.Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
		UploadDir: cfg.UploadDir,
	}, log)
	if err != nil {
		log.Fatal("prepare upload storage", map[string]interface{}{"error": err.Error()})
	}
	if err := images.EnsureSpace(objstore.MinFreeSpaceMB); err != nil {
		log.Warn("uploads volume is low on space, uploads will be refused", map[string]interface{}{
			"error": err.Error(),
		})
	}

	detector, err := detect.New(detect.ResolveModelPath(cfg.ModelPath), log)
	if err != nil {
		log.Fatal("load detection model", map[string]interface{}{
			"model": cfg.ModelPath,
			"error": err.Error(),
		})
	}

	var engines []ocr.Engine
	if cfg.OCRModelPath != "" {
		primary, err := ocr.NewCRNN(cfg.OCRModelPath, "primary")
		if err != nil {
			log.Fatal("load primary OCR model", map[string]interface{}{
				"model": cfg.OCRModelPath,
				"error": err.Error(),
			})
		}
		engines = append(engines, primary)
	}
	if cfg.OCRModelPath2 != "" {
		secondary, err := ocr.NewCRNN(cfg.OCRModelPath2, "secondary")
		if err != nil {
			log.Fatal("load secondary OCR model", map[string]interface{}{
				"model": cfg.OCRModelPath2,
				"error": err.Error(),
			})
		}
		engines = append(engines, secondary)
	}
	if len(engines) == 0 {
		log.Fatal("no OCR model configured, set OCR_MODEL_PATH")
	}
	ensemble := ocr.NewEnsemble(log, engines...)
	log.Info("OCR ensemble ready", map[string]interface{}{"engines": ensemble.Size()})

	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "lprd",
		ServiceVersion: api.Version,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal("initialize tracing", map[string]interface{}{"error": err.Error()})
	}

	collector := prometheus.NewCollector(st)
	monitor := bandwidth.NewMonitor(nil)

	handler := api.NewHandler(cfg, st, images, detector, ensemble, log)
	handler.SetMetricsRecorder(collector)

	verifier := auth.NewKeyVerifier(cfg.APIKeyHash)
	if verifier.Enabled() {
		log.Info("API authentication enabled")
	} else {
		log.Warn("API_KEY_HASH not set, authentication disabled")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		log.Info("prediction rate limiting enabled", map[string]interface{}{
			"rps":   cfg.RateLimitRPS,
			"burst": cfg.RateLimitBurst,
		})
	}

	router := mux.NewRouter()
	if cfg.TracingEnabled {
		router.Use(tracing.HTTPMiddleware(provider, "lprd"))
	}
	router.Use(monitor.Middleware)
	router.Use(collector.Middleware)
	router.Use(api.RateLimitMiddleware(limiter))
	router.Use(api.AuthMiddleware(verifier))
	handler.RegisterRoutes(router)
	router.Handle("/metrics", collector).Methods("GET")

	retention := cleanup.New(cleanup.Config{RetentionDays: cfg.RetentionDays}, st, images, log)
	retention.SetStatsRecorder(collector)
	retention.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	useTLS := *tlsCert != "" && *tlsKey != ""
	if useTLS {
		tlsConfig, err := tlsutil.LoadTLSConfig(*tlsCert, *tlsKey, "", false)
		if err != nil {
			log.Fatal("load TLS config", map[string]interface{}{"error": err.Error()})
		}
		srv.TLSConfig = tlsConfig
	}

	sd := shutdown.New(30 * time.Second)
	sd.Register(shutdown.CloseResource(st, "record store"))
	sd.Register(func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	})
	sd.Register(func(context.Context) error {
		ensemble.Close()
		detector.Close()
		return nil
	})
	sd.Register(func(context.Context) error {
		retention.Stop()
		return nil
	})
	sd.Register(shutdown.StopHTTPServer(srv, "lprd"))

	if limiter != nil {
		limiter.StartCleanup(10*time.Minute, time.Hour, sd.Done())
	}

	go func() {
		log.Info("lprd listening", map[string]interface{}{
			"addr": srv.Addr,
			"tls":  useTLS,
		})
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sd.Wait()
	sd.Shutdown()
	log.Info("lprd stopped")
}
