package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/buchio/rpi-camera-streamer/capture"
	"github.com/buchio/rpi-camera-streamer/dispatch"
	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/hub"
	"github.com/buchio/rpi-camera-streamer/mux"
	"github.com/buchio/rpi-camera-streamer/source"
	ws "github.com/buchio/rpi-camera-streamer/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type config struct {
	host          string
	port          string
	queueCapacity int
	videoCommand  []string
	audioEnable   bool
	audioCommand  []string
	audioBlock    int
	audioChannels int
}

func loadConfig() config {
	cfg := config{
		host:          getenv("HOST", ""),
		port:          getenv("PORT", "8080"),
		queueCapacity: getenvInt("QUEUE_CAPACITY", mux.DefaultCapacity),
		videoCommand: strings.Fields(getenv("VIDEO_COMMAND",
			"rpicam-vid -t 0 --codec mjpeg --width 640 --height 480 --framerate 15 -o -")),
		audioEnable: getenv("AUDIO_ENABLE", "") == "true",
		audioCommand: strings.Fields(getenv("AUDIO_COMMAND",
			"arecord -f S16_LE -c 1 -r 44100 -t raw")),
		audioBlock:    getenvInt("AUDIO_BLOCK", source.DefaultBlockSamples),
		audioChannels: getenvInt("AUDIO_CHANNELS", 1),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer setting, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := loadConfig()
	if len(cfg.videoCommand) == 0 {
		slog.Error("VIDEO_COMMAND is empty")
		os.Exit(1)
	}

	videoQueue := mux.New(cfg.queueCapacity)
	audioQueue := mux.New(cfg.queueCapacity)
	registry := hub.New()
	dispatcher := dispatch.New(videoQueue, audioQueue, registry)

	videoSrc, err := source.NewMJPEGSource(cfg.videoCommand[0], cfg.videoCommand[1:]...)
	if err != nil {
		slog.Error("video source unavailable", "error", err)
		os.Exit(1)
	}

	var audioSrc *source.PCMSource
	if cfg.audioEnable {
		if len(cfg.audioCommand) == 0 {
			slog.Error("AUDIO_ENABLE set but AUDIO_COMMAND is empty")
			os.Exit(1)
		}
		audioSrc, err = source.NewPCMSource(cfg.audioBlock, cfg.audioChannels,
			cfg.audioCommand[0], cfg.audioCommand[1:]...)
		if err != nil {
			slog.Error("audio source unavailable", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/ws", wsHandler(registry))
	serveMux.HandleFunc("/health", healthHandler)
	serveMux.HandleFunc("/stats", statsHandler(registry, dispatcher, videoQueue, audioQueue))

	server := &http.Server{
		Addr:    cfg.host + ":" + cfg.port,
		Handler: serveMux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return capture.Pump(ctx, domain.Video, videoSrc, videoQueue)
	})
	if audioSrc != nil {
		g.Go(func() error {
			return capture.Pump(ctx, domain.Audio, audioSrc, audioQueue)
		})
	}
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("server shutting down")

		videoSrc.Close()
		if audioSrc != nil {
			audioSrc.Close()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func wsHandler(registry domain.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), conn, registry)
		wsConn.Start()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(registry *hub.Hub, dispatcher *dispatch.Dispatcher, videoQueue, audioQueue *mux.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frames, dropped := dispatcher.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]uint64{
			"clients":      uint64(registry.Stats()),
			"frames":       frames,
			"dropped":      dropped,
			"videoEvicted": videoQueue.Dropped(),
			"audioEvicted": audioQueue.Dropped(),
		})
	}
}
