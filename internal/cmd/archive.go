package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"text/tabwriter"

	"github.com/MeKo-Tech/texturemaps/internal/archive"
	"github.com/MeKo-Tech/texturemaps/internal/imageio"
	"github.com/MeKo-Tech/texturemaps/internal/maps"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// mapFileRe matches files written by generate: <name>_<kind>.<ext>.
var mapFileRe = regexp.MustCompile(`^(.+)_(normal|displacement|ao|specular)\.(png|jpg|webp)$`)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and build map archives",
}

var archiveListCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "List the maps stored in an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveList,
}

var archiveExtractCmd = &cobra.Command{
	Use:   "extract <archive>",
	Short: "Write one stored map to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveExtract,
}

var archiveImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Pack generated map files into an archive",
	Long:  `Pack <name>_<kind>.<ext> files previously written by "generate" into an archive database.`,
	RunE:  runArchiveImport,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveListCmd, archiveExtractCmd, archiveImportCmd)

	archiveExtractCmd.Flags().String("source", "", "Source image name as stored (e.g. brick.png or walls/brick.png)")
	archiveExtractCmd.Flags().String("kind", "", "Map kind (normal, displacement, ao, specular)")
	archiveExtractCmd.Flags().String("settings-hash", "", "Settings hash (default: most recent)")
	archiveExtractCmd.Flags().StringP("output", "o", "", "Output file (default: <output-dir>/<name>_<kind>.<ext>)")

	archiveImportCmd.Flags().String("input-dir", "", "Directory containing generated maps (defaults to --output-dir)")
	archiveImportCmd.Flags().String("archive", "", "Archive database to write (required)")
	archiveImportCmd.Flags().String("name", "texturemaps", "Archive name")
	archiveImportCmd.Flags().String("description", "Imported texture maps", "Archive description")

	bindFlags := []struct {
		cmd  *cobra.Command
		key  string
		flag string
	}{
		{archiveExtractCmd, "archive.extract.source", "source"},
		{archiveExtractCmd, "archive.extract.kind", "kind"},
		{archiveExtractCmd, "archive.extract.settings_hash", "settings-hash"},
		{archiveExtractCmd, "archive.extract.output", "output"},
		{archiveImportCmd, "archive.import.input_dir", "input-dir"},
		{archiveImportCmd, "archive.import.archive", "archive"},
		{archiveImportCmd, "archive.import.name", "name"},
		{archiveImportCmd, "archive.import.description", "description"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, bf.cmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	r, err := archive.OpenReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	entries, err := r.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s, generator %s)\n", meta.Name, meta.Description, meta.Generator)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tSETTINGS\tFORMAT\tSIZE\tBYTES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dx%d\t%d\n", e.Source, e.Kind, e.SettingsHash, e.Format, e.Width, e.Height, e.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d maps\n", len(entries))
	return nil
}

func runArchiveExtract(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	source := viper.GetString("archive.extract.source")
	if source == "" {
		return fmt.Errorf("--source is required")
	}
	kind, err := maps.ParseKind(viper.GetString("archive.extract.kind"))
	if err != nil {
		return err
	}

	r, err := archive.OpenReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	m, err := r.ReadMap(source, kind, viper.GetString("archive.extract.settings_hash"))
	if err != nil {
		return err
	}

	output := viper.GetString("archive.extract.output")
	if output == "" {
		format, err := imageio.ParseFormat(m.Format)
		if err != nil {
			return err
		}
		name := filepath.FromSlash(source)
		name = name[:len(name)-len(filepath.Ext(name))]
		output = filepath.Join(viper.GetString("output-dir"), name+"_"+string(kind)+format.Extension())
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(output, m.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write map: %w", err)
	}

	logger.Info("Map extracted", "source", source, "kind", kind, "settings_hash", m.SettingsHash, "path", output)
	return nil
}

func runArchiveImport(cmd *cobra.Command, args []string) error {
	inputDir := viper.GetString("archive.import.input_dir")
	if inputDir == "" {
		inputDir = viper.GetString("output-dir")
	}
	archivePath := viper.GetString("archive.import.archive")

	if logger == nil {
		initLogging()
	}

	if archivePath == "" {
		return fmt.Errorf("--archive is required")
	}
	if _, err := os.Stat(inputDir); os.IsNotExist(err) {
		return fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	files, err := scanMapFiles(inputDir)
	if err != nil {
		return fmt.Errorf("failed to scan maps directory: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no maps found in %s", inputDir)
	}
	logger.Info("Found maps", "count", len(files), "input_dir", inputDir)

	writer, err := archive.New(archivePath, archive.Metadata{
		Name:        viper.GetString("archive.import.name"),
		Description: viper.GetString("archive.import.description"),
		Version:     "1.0",
		Generator:   "texturemaps",
	})
	if err != nil {
		return fmt.Errorf("failed to create archive writer: %w", err)
	}
	defer writer.Close()

	var imported int
	for i, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			logger.Error("Failed to read map", "path", f.path, "error", err)
			continue
		}
		img, _, err := imageio.DecodeBytes(data)
		if err != nil {
			logger.Error("Failed to decode map", "path", f.path, "error", err)
			continue
		}
		size := img.Bounds().Size()

		err = writer.WriteMap(archive.Map{
			Source: f.source,
			Kind:   f.kind,
			Format: f.format,
			Width:  size.X,
			Height: size.Y,
			Data:   data,
		})
		if err != nil {
			logger.Error("Failed to write map", "path", f.path, "error", err)
			continue
		}
		imported++

		if (i+1)%100 == 0 {
			logger.Info("Progress", "imported", i+1, "total", len(files))
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush maps: %w", err)
	}

	logger.Info("Import complete", "archive", archivePath, "maps", imported)
	return nil
}

type mapFile struct {
	path   string
	source string
	kind   maps.Kind
	format string
}

// scanMapFiles finds generated map files below dir. Map names drop the source
// extension, so sources are recorded without one, and keep the subdirectory
// below dir so nested sources stay distinct.
func scanMapFiles(dir string) ([]mapFile, error) {
	var files []mapFile

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		matches := mapFileRe.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			return nil
		}

		format, err := imageio.ParseFormat(matches[3])
		if err != nil {
			return err
		}
		source := matches[1]
		if rel, err := filepath.Rel(dir, filepath.Dir(path)); err == nil && rel != "." {
			source = filepath.ToSlash(filepath.Join(rel, source))
		}
		files = append(files, mapFile{
			path:   path,
			source: source,
			kind:   maps.Kind(matches[2]),
			format: string(format),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}
