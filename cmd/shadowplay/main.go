package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/shadowplay/internal/config"
	"github.com/ivlev/shadowplay/internal/engine"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/render"
	"github.com/ivlev/shadowplay/internal/scene"
	"github.com/ivlev/shadowplay/internal/session"
	"github.com/ivlev/shadowplay/internal/storage"
	"github.com/ivlev/shadowplay/internal/system"
	"github.com/ivlev/shadowplay/internal/video"
	"github.com/ivlev/shadowplay/internal/web/api"
)

// Заполняется через ldflags при сборке релиза
var buildVersion = "dev"

func main() {
	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	configPtr := flag.String("config", "", "Путь к YAML-конфигу (если пусто, используются встроенные значения)")
	addrPtr := flag.String("addr", "", "Адрес HTTP-сервера (перекрывает конфиг)")
	baseURLPtr := flag.String("base-url", "", "Публичный базовый URL для QR-кодов и ссылок (перекрывает конфиг)")
	workersPtr := flag.Int("workers", 0, "Количество render-воркеров (0 - из конфига)")
	qualityPtr := flag.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	debugPtr := flag.Bool("debug-overlay", false, "Рисовать ландмарки и пивоты поверх кадров")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка конфига: %v", err)
	}
	cfg.BuildVersion = buildVersion
	if *addrPtr != "" {
		cfg.HTTPAddr = *addrPtr
	}
	if *baseURLPtr != "" {
		cfg.PublicBaseURL = *baseURLPtr
	}
	if *workersPtr > 0 {
		cfg.Workers = *workersPtr
	}
	if *qualityPtr > 0 {
		cfg.Quality = *qualityPtr
	}
	if *debugPtr {
		cfg.DebugOverlay = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка конфига: %v", err)
	}

	// Создаем нужные директории, если их нет
	for _, d := range []string{cfg.SessionsDir, cfg.OutputsDir, cfg.ScenesDir, cfg.CharactersDir} {
		os.MkdirAll(d, 0755)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("[-] Ошибка логгера: %v", err)
	}
	defer logg.Sync()

	encoderName := cfg.VideoEncoder
	if encoderName == "" {
		encoderName, _ = system.GetBestH264Encoder()
		if encoderName != "libx264" {
			fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoderName)
		}
	}
	quality := cfg.Quality
	if quality == 0 {
		switch encoderName {
		case "h264_videotoolbox":
			quality = 75 // Хорошее качество для VideoToolbox
		case "h264_nvenc":
			quality = 28 // Эквивалент CRF для NVENC
		default:
			quality = 23 // Стандартный CRF для x264
		}
	}

	registry, err := scene.NewRegistry(cfg.ScenesDir, cfg.CharactersDir, logg)
	if err != nil {
		log.Fatalf("[-] Ошибка сцен: %v. Положите сцены в %s", err, cfg.ScenesDir)
	}
	fmt.Printf("[*] Загружены сцены: %v\n", registry.SceneIDs())

	store, err := session.NewFileStore(cfg.SessionsDir, cfg.OutputsDir, logg)
	if err != nil {
		log.Fatalf("[-] Ошибка хранилища: %v", err)
	}

	renderer := render.NewRenderer(
		render.Config{
			OutputDir:     cfg.OutputsDir,
			EncoderName:   encoderName,
			Quality:       quality,
			PublicBaseURL: cfg.PublicBaseURL,
			DebugOverlay:  cfg.DebugOverlay,
		},
		store, registry,
		&video.FFmpegProber{}, &video.FFmpegDecoder{}, &video.FFmpegEncoder{},
		logg,
	)
	queue := render.NewQueue(cfg.Workers, store, renderer, logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Сессии, зависшие в PROCESSING после рестарта, добиваем до FAILED
	if err := queue.RecoverInterrupted(ctx); err != nil {
		logg.Warn("startup recovery failed", "error", err)
	}
	queue.Start(ctx)

	cleaner := storage.NewCleaner(store, storage.Policy{
		MaxAge:             cfg.MaxAge(),
		EmergencyThreshold: cfg.EmergencyThreshold(),
		EmergencyTarget:    cfg.EmergencyTarget(),
	}, logg)
	scheduler := storage.NewScheduler(cleaner, cfg.SweepInterval(), logg)

	eng := engine.New(store, registry, queue, logg)

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(eng, cfg.OutputsDir, cfg.PublicBaseURL, logg))
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("[*] shadowplay %s: HTTP-сервер на %s (воркеров: %d, кодировщик: %s)\n",
			cfg.BuildVersion, cfg.HTTPAddr, cfg.Workers, encoderName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.Watch(gctx)
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error("service stopped with error", "error", err)
	}
	queue.Wait()
	fmt.Println("[*] Остановлено")
}
