package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"

	"github.com/MeKo-Tech/texturemaps/internal/archive"
	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/MeKo-Tech/texturemaps/internal/pipeline"
	"github.com/MeKo-Tech/texturemaps/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate texture maps",
	Long: `Generate normal, displacement, ambient-occlusion and specular maps for one
image (--input) or every image in a directory (--input-dir).

Maps are written as <output-dir>/<name>_<kind>.<ext>. In batch mode <name>
keeps the image's subdirectory below --input-dir, so a/rock.png and b/rock.png
do not overwrite each other.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	// Source flags
	generateCmd.Flags().StringP("input", "i", "", "Source image (single image mode)")
	generateCmd.Flags().String("input-dir", "", "Directory of source images (batch mode)")

	// Batch generation flags
	generateCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	generateCmd.Flags().Bool("progress", true, "Show progress bar during batch generation")
	generateCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some images fail")
	generateCmd.Flags().Duration("task-timeout", 0, "Timeout per image (0 disables it)")

	// Output flags
	generateCmd.Flags().String("maps", "all", "Comma-separated map kinds (normal, displacement, ao, specular) or all")
	generateCmd.Flags().String("format", "png", "Output format: png, jpeg or webp")
	generateCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	generateCmd.Flags().Int("jpeg-quality", imageio.DefaultJPEGQuality, "JPEG quality (1-100)")
	generateCmd.Flags().Int("export-size", 0, "Resize maps to a square of this size, e.g. 512, 1024, 2048, 4096 (0 keeps the source size)")
	generateCmd.Flags().Int("max-source-size", 0, "Downscale sources whose longer side exceeds this before generation (0 disables it)")
	generateCmd.Flags().Int("max-source-pixels", imageio.DefaultMaxPixels, "Reject sources whose header declares more pixels than this")
	generateCmd.Flags().Bool("force", false, "Force regeneration even if the maps exist")
	generateCmd.Flags().String("archive", "", "Also store the maps in this archive database (e.g. maps.db)")

	addSettingsFlags(generateCmd)

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"generate.input", "input"},
		{"generate.input_dir", "input-dir"},
		{"generate.workers", "workers"},
		{"generate.progress", "progress"},
		{"generate.allow_failures", "allow-failures"},
		{"generate.task_timeout", "task-timeout"},
		{"generate.maps", "maps"},
		{"generate.format", "format"},
		{"generate.png_compression", "png-compression"},
		{"generate.jpeg_quality", "jpeg-quality"},
		{"generate.export_size", "export-size"},
		{"generate.max_source_size", "max-source-size"},
		{"generate.max_source_pixels", "max-source-pixels"},
		{"generate.force", "force"},
		{"generate.archive", "archive"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, generateCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	input := viper.GetString("generate.input")
	inputDir := viper.GetString("generate.input_dir")
	outputDir := viper.GetString("output-dir")
	archivePath := viper.GetString("generate.archive")

	if logger == nil {
		initLogging()
	}

	if (input == "") == (inputDir == "") {
		return fmt.Errorf("exactly one of --input or --input-dir is required")
	}

	opts, err := generatorOptions(cmd)
	if err != nil {
		return err
	}
	if inputDir != "" {
		opts.InputRoot = inputDir
	}

	var writer *archive.Writer
	if archivePath != "" {
		writer, err = archive.New(archivePath, archive.Metadata{
			Name:        "texturemaps",
			Description: "Generated texture maps",
			Version:     "1.0",
			Generator:   "texturemaps",
			Format:      string(opts.Encode.Format),
		})
		if err != nil {
			return fmt.Errorf("failed to create archive writer: %w", err)
		}
		defer writer.Close()
		opts.MapWriter = writer
		logger.Info("Archive writer created", "path", archivePath)
	}

	gen, err := pipeline.NewGenerator(outputDir, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to init generator: %w", err)
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	force := viper.GetBool("generate.force")
	if input != "" {
		err = runSingleGenerate(ctx, gen, input, force)
	} else {
		err = runBatchGenerate(ctx, gen, inputDir, outputDir, force)
	}
	if err != nil {
		return err
	}

	if writer != nil {
		logger.Info("Flushing archive...")
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush archive: %w", err)
		}
		logger.Info("Archive complete", "path", archivePath)
	}
	return nil
}

// generatorOptions assembles pipeline options from the bound flags and config.
func generatorOptions(cmd *cobra.Command) (pipeline.Options, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return pipeline.Options{}, err
	}

	kinds, err := maps.ParseKinds(viper.GetString("generate.maps"))
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("invalid --maps: %w", err)
	}

	format, err := imageio.ParseFormat(viper.GetString("generate.format"))
	if err != nil {
		return pipeline.Options{}, err
	}
	compression, err := imageio.ParsePNGCompression(viper.GetString("generate.png_compression"))
	if err != nil {
		return pipeline.Options{}, err
	}

	return pipeline.Options{
		Request: pipeline.Request{Settings: settings, Kinds: kinds},
		Encode: imageio.EncodeOptions{
			Format:         format,
			PNGCompression: compression,
			JPEGQuality:    viper.GetInt("generate.jpeg_quality"),
		},
		ExportSize:      viper.GetInt("generate.export_size"),
		MaxSourceSize:   viper.GetInt("generate.max_source_size"),
		MaxSourcePixels: viper.GetInt("generate.max_source_pixels"),
	}, nil
}

func runSingleGenerate(ctx context.Context, gen *pipeline.Generator, input string, force bool) error {
	logger.Info("Starting map generation", "source", input, "force", force)

	paths, err := gen.Generate(ctx, input, force)
	if err != nil {
		return fmt.Errorf("failed to generate maps: %w", err)
	}

	for _, p := range paths {
		logger.Info("Map written", "path", p)
	}
	return nil
}

func runBatchGenerate(ctx context.Context, gen *pipeline.Generator, inputDir, outputDir string, force bool) error {
	workers := viper.GetInt("generate.workers")
	showProgress := viper.GetBool("generate.progress")
	allowFailures := viper.GetBool("generate.allow_failures")

	// Default workers to CPU count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sources, err := scanSources(inputDir, outputDir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", inputDir, err)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no source images found in %s", inputDir)
	}

	logger.Info("Starting batch map generation",
		"input_dir", inputDir,
		"images", len(sources),
		"workers", workers,
		"output_dir", outputDir,
	)

	tasks := make([]worker.Task, 0, len(sources))
	for _, src := range sources {
		tasks = append(tasks, worker.Task{Source: src, Force: force})
	}

	var progressOut io.Writer
	if showProgress {
		progressOut = os.Stderr
	}
	progress := worker.NewProgress(len(tasks), progressOut)
	pool := worker.New(worker.Config{
		Workers:     workers,
		Generator:   gen,
		TaskTimeout: viper.GetDuration("generate.task_timeout"),
		OnProgress:  progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Finish()

	for _, r := range results {
		if r.Err != nil {
			logger.Error("Map generation failed", "source", r.Task.Source, "error", r.Err)
		}
	}

	logger.Info(progress.Summary(), "maps", progress.MapsWritten())
	failedCount := len(progress.Failed())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("generation cancelled: %w", err)
	}
	if failedCount > 0 {
		if !allowFailures {
			return fmt.Errorf("%d of %d images failed to generate", failedCount, len(tasks))
		}
		logger.Warn("Some images failed to generate, but continuing due to --allow-failures flag", "failed_count", failedCount)
	}
	return nil
}

// scanSources returns the decodable images below dir in lexical order.
// skipDir and files named like generated maps are left out.
func scanSources(dir, skipDir string) ([]string, error) {
	skipAbs := ""
	if skipDir != "" {
		if abs, err := filepath.Abs(skipDir); err == nil {
			skipAbs = abs
		}
	}

	var sources []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if abs, err := filepath.Abs(path); err == nil && abs == skipAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if imageio.IsSource(d.Name()) && !mapFileRe.MatchString(d.Name()) {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(sources)
	return sources, nil
}
