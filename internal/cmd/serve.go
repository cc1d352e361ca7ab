package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve map generation over HTTP",
	Long: `Serve map generation over HTTP.

POST an encoded image to /v1/maps/{kind} to receive one map, or to /v1/maps
for a JSON document with every map as a data URL. With --archive, maps stored
by "generate --archive" are served from /v1/archive.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().Int("max-concurrent-generations", runtime.NumCPU(), "Max concurrent generations (default: number of CPUs)")
	serveCmd.Flags().Duration("generation-timeout", 2*time.Minute, "Timeout per generation request")
	serveCmd.Flags().Int64("max-upload-mb", server.DefaultMaxUploadBytes>>20, "Maximum upload size in MiB")
	serveCmd.Flags().Int("max-source-size", 4096, "Downscale uploads whose longer side exceeds this (0 disables it)")
	serveCmd.Flags().Int("max-source-pixels", imageio.DefaultMaxPixels, "Reject uploads whose header declares more pixels than this")
	serveCmd.Flags().String("format", "png", "Default response format: png, jpeg or webp")
	serveCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	serveCmd.Flags().String("archive", "", "Serve stored maps from this archive database")
	serveCmd.Flags().String("cache-control", "public, max-age=3600", "Cache-Control header for archived maps")

	addSettingsFlags(serveCmd)

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.max_concurrent_generations", "max-concurrent-generations")
	mustBind("serve.generation_timeout", "generation-timeout")
	mustBind("serve.max_upload_mb", "max-upload-mb")
	mustBind("serve.max_source_size", "max-source-size")
	mustBind("serve.max_source_pixels", "max-source-pixels")
	mustBind("serve.format", "format")
	mustBind("serve.png_compression", "png-compression")
	mustBind("serve.archive", "archive")
	mustBind("serve.cache_control", "cache-control")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	maxConc := viper.GetInt("serve.max_concurrent_generations")
	genTimeout := viper.GetDuration("serve.generation_timeout")
	archivePath := viper.GetString("serve.archive")

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	format, err := imageio.ParseFormat(viper.GetString("serve.format"))
	if err != nil {
		return err
	}
	compression, err := imageio.ParsePNGCompression(viper.GetString("serve.png_compression"))
	if err != nil {
		return err
	}

	ms, err := server.NewMapServer(server.MapServerConfig{
		Settings:                 settings,
		Encode:                   imageio.EncodeOptions{Format: format, PNGCompression: compression},
		MaxConcurrentGenerations: maxConc,
		GenerationTimeout:        genTimeout,
		MaxUploadBytes:           viper.GetInt64("serve.max_upload_mb") << 20,
		MaxSourceSize:            viper.GetInt("serve.max_source_size"),
		MaxSourcePixels:          viper.GetInt("serve.max_source_pixels"),
	}, logger)
	if err != nil {
		return err
	}

	var ah *server.ArchiveHandler
	if archivePath != "" {
		ah, err = server.NewArchiveHandler(server.ArchiveConfig{
			ArchivePath:  archivePath,
			CacheControl: viper.GetString("serve.cache_control"),
		}, logger)
		if err != nil {
			return err
		}
		defer ah.Close()
	}

	logger.Info("map server listening",
		"addr", addr,
		"max_concurrent_generations", maxConc,
		"generation_timeout", genTimeout,
		"format", format,
		"archive", archivePath,
	)

	srv := &http.Server{Addr: addr, Handler: server.NewHandler(ms, ah), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), genTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
