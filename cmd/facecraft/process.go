package main

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"facecraft/internal/domain"
	"facecraft/internal/models"
	"facecraft/internal/usecase/processor"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

type processFlags struct {
	Output          string
	Width           int
	Height          int
	Background      []int
	FaceMargin      float64
	NoOvalMask      bool
	NoEnhanceFace   bool
	EnhanceFidelity float64
	NoEnhancePhoto  bool
	MaxSizeKB       int
	Annotate        bool
}

var procFlags processFlags

var processCmd = &cobra.Command{
	Use:   "process <file|dir>",
	Short: "Process one photo or every photo in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	f := processCmd.Flags()
	f.StringVarP(&procFlags.Output, "output", "o", "", "Output directory (default: <input dir>/output)")
	f.IntVar(&procFlags.Width, "width", 0, "Output width in pixels")
	f.IntVar(&procFlags.Height, "height", 0, "Output height in pixels")
	f.IntSliceVar(&procFlags.Background, "bg", nil, "Background color as r,g,b")
	f.Float64Var(&procFlags.FaceMargin, "margin", 0, "Margin around the face as a fraction of its size (0-1)")
	f.BoolVar(&procFlags.NoOvalMask, "no-oval", false, "Skip the oval vignette")
	f.BoolVar(&procFlags.NoEnhanceFace, "no-enhance-face", false, "Skip face restoration")
	f.Float64Var(&procFlags.EnhanceFidelity, "fidelity", 0, "Face restoration fidelity (0-1)")
	f.BoolVar(&procFlags.NoEnhancePhoto, "no-enhance-photo", false, "Skip photo enhancement")
	f.IntVar(&procFlags.MaxSizeKB, "max-size-kb", 0, "JPEG size target in KB (0 disables)")
	f.BoolVar(&procFlags.Annotate, "annotate", false, "Also write a preview with face boxes")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	inputs, baseDir, err := collectInputs(args[0])
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no supported images in %s", args[0])
	}

	outDir := procFlags.Output
	if outDir == "" {
		outDir = filepath.Join(baseDir, "output")
	}

	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}

	set, err := models.Load(cfg, &zlog.Logger)
	if err != nil {
		return err
	}
	defer set.Close()

	var bar *progressbar.ProgressBar
	if len(inputs) > 1 {
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription("Processing portraits"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	ctx := cmd.Context()
	outputs := processor.OutputPaths(inputs, outDir)
	var failed []string
	for i, in := range inputs {
		if ctx.Err() != nil {
			break
		}

		res := set.Processor.ProcessFile(ctx, in, outputs[i], opts)
		if !res.Success {
			failed = append(failed, fmt.Sprintf("%s: %s", filepath.Base(in), res.Error))
		} else if bar == nil {
			fmt.Fprintf(os.Stderr, "%s -> %s (%.2fs, jpeg quality %d)\n", in, res.PNGPath, res.Seconds(), res.JPEGQuality)
		}

		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}

	snap := set.Processor.Stats()
	fmt.Fprintf(os.Stderr, "Processed %d, succeeded %d, no face %d, errors %d, average %.0f ms\n",
		snap.Total, snap.Success, snap.NoFace, snap.Errors, snap.AverageMillis())

	if len(failed) > 0 {
		for _, f := range failed {
			fmt.Fprintln(os.Stderr, "  failed:", f)
		}
		return fmt.Errorf("%d of %d images failed", len(failed), len(inputs))
	}
	return nil
}

// collectInputs returns the image files named by path and the directory the
// default output folder is created in. Directories are not walked recursively.
func collectInputs(path string) ([]string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat input: %w", err)
	}

	if !info.IsDir() {
		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil, "", fmt.Errorf("unsupported file format: %s", path)
		}
		return []string{path}, filepath.Dir(path), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, path, nil
}

func optionsFromFlags(cmd *cobra.Command) (domain.ProcessingOptions, error) {
	opts := cfg.DefaultOptions()
	f := cmd.Flags()

	if f.Changed("width") {
		opts.Width = procFlags.Width
	}
	if f.Changed("height") {
		opts.Height = procFlags.Height
	}
	if opts.Width < 64 || opts.Width > 4096 || opts.Height < 64 || opts.Height > 4096 {
		return opts, errors.New("width and height must be between 64 and 4096")
	}

	if f.Changed("bg") {
		bg := procFlags.Background
		if len(bg) != 3 {
			return opts, errors.New("--bg takes exactly three values: r,g,b")
		}
		for _, v := range bg {
			if v < 0 || v > 255 {
				return opts, errors.New("--bg values must be between 0 and 255")
			}
		}
		opts.BackgroundColor = color.NRGBA{R: uint8(bg[0]), G: uint8(bg[1]), B: uint8(bg[2]), A: 255}
	}

	if f.Changed("margin") {
		opts.FaceMargin = procFlags.FaceMargin
	}
	if f.Changed("fidelity") {
		opts.EnhanceFidelity = procFlags.EnhanceFidelity
	}
	if procFlags.NoOvalMask {
		opts.UseOvalMask = false
	}
	if procFlags.NoEnhanceFace {
		opts.EnhanceFace = false
	}
	if procFlags.NoEnhancePhoto {
		opts.EnhancePhoto = false
	}
	if f.Changed("max-size-kb") {
		if procFlags.MaxSizeKB > 0 {
			kb := procFlags.MaxSizeKB
			opts.MaxJPEGSizeKB = &kb
		} else {
			opts.MaxJPEGSizeKB = nil
		}
	}
	opts.Annotate = procFlags.Annotate
	opts.Outputs = domain.OutputAll

	return opts.Normalize(), nil
}
