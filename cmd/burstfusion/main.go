// Command burstfusion is a demo CLI wiring frame ingress/egress around
// the fusion pipeline: it decodes a burst of same-sized images, fuses
// them, and writes the result back out in a standard image format.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pspoerri/burstfusion/internal/align"
	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/encode"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
	"github.com/pspoerri/burstfusion/internal/merge"
	"github.com/pspoerri/burstfusion/internal/mfsr"
	"github.com/pspoerri/burstfusion/internal/pipeline"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		mode        string
		format      string
		quality     int
		refIndex    int
		scaleFactor int
		tileWidth   int
		tileHeight  int
		concurrency int
		verbose     bool
		showVersion bool
		noiseModel  bool
	)

	flag.StringVar(&mode, "mode", "tiled", "Fusion mode: merge (robust same-resolution merge), mfsr (whole-frame super-resolution), tiled (tiled MFSR pipeline)")
	flag.StringVar(&format, "format", "png", "Output encoding: png, jpeg, webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP quality 1-100")
	flag.IntVar(&refIndex, "ref", 0, "Index of the reference frame among the inputs")
	flag.IntVar(&scaleFactor, "scale", 2, "Super-resolution scale factor (mfsr/tiled modes): 2, 3, or 4")
	flag.IntVar(&tileWidth, "tile-width", 256, "Tiled pipeline tile width in pixels")
	flag.IntVar(&tileHeight, "tile-height", 256, "Tiled pipeline tile height in pixels")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel tile workers (tiled mode)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&noiseModel, "noise-model", false, "Use noise-adaptive per-pixel weighting in merge mode, instead of flat per-frame weights")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: burstfusion [flags] <input-1> <input-2> ... <output>\n\n")
		fmt.Fprintf(os.Stderr, "Fuse a burst of aligned-size images into one higher-quality image.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("burstfusion %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(1)
	}
	outputPath := args[len(args)-1]
	inputPaths := args[:len(args)-1]

	cfg := fconfig.Default()
	cfg.Verbose = verbose
	cfg.MFSR.ScaleFactor = scaleFactor
	cfg.Tiled.TileWidth = tileWidth
	cfg.Tiled.TileHeight = tileHeight
	cfg.Merge.UseNoiseModel = noiseModel
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	enc, err := encode.NewEncoder(format, quality)
	if err != nil {
		log.Fatalf("Encoder: %v", err)
	}

	if refIndex < 0 || refIndex >= len(inputPaths) {
		log.Fatalf("Reference index %d out of range for %d input(s)", refIndex, len(inputPaths))
	}

	start := time.Now()
	frames, err := loadFrames(inputPaths)
	if err != nil {
		log.Fatalf("Loading frames: %v", err)
	}
	if verbose {
		log.Printf("Loaded %d frame(s) in %v", len(frames), time.Since(start).Round(time.Millisecond))
	}

	width, height := frames[0].Width, frames[0].Height
	for i, f := range frames {
		if f.Width != width || f.Height != height {
			log.Fatalf("Frame %d (%s) is %dx%d, expected %dx%d", i, inputPaths[i], f.Width, f.Height, width, height)
		}
	}

	bar := diag.NewBar(strings.ToUpper(mode[:1])+mode[1:], int64(len(frames)))
	sink := diag.SinkFunc(func(stage string, fraction float64, message string) {
		if verbose {
			log.Printf("[%s] %.0f%% %s", stage, fraction*100, message)
		}
	})

	var result *imagebuf.RGBImage
	processStart := time.Now()

	switch mode {
	case "merge":
		result, err = runMerge(frames, refIndex, cfg, bar)
	case "mfsr":
		result, err = runMFSR(frames, refIndex, cfg)
	case "tiled":
		result, err = runTiled(frames, refIndex, cfg, sink, concurrency)
	default:
		log.Fatalf("Unknown mode %q (supported: merge, mfsr, tiled)", mode)
	}
	if err != nil {
		log.Fatalf("Fusion failed: %v", err)
	}
	bar.Finish()

	if verbose {
		log.Printf("Fusion (%s) completed in %v", mode, time.Since(processStart).Round(time.Millisecond))
	}

	stats := diag.Scan(result)
	stats.SanitizedCount = diag.Sanitize(result)
	stats.LogSummary(fmt.Sprintf("[%s]", mode))

	data, err := enc.Encode(imagebuf.ToStdImage(result))
	if err != nil {
		log.Fatalf("Encoding output: %v", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Fatalf("Writing %s: %v", outputPath, err)
	}
	log.Printf("Wrote %s (%d bytes, %dx%d)", outputPath, len(data), result.Width, result.Height)
}

// loadFrames decodes every input path into an RGBImage, inferring the
// codec from the file extension.
func loadFrames(paths []string) ([]*imagebuf.RGBImage, error) {
	frames := make([]*imagebuf.RGBImage, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		format := formatFromExtension(p)
		img, err := encode.DecodeImage(data, format)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		frames[i] = imagebuf.FromStdImage(img)
	}
	return frames, nil
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".webp":
		return "webp"
	default:
		return "png"
	}
}

// runMerge aligns every non-reference frame to the reference via the
// coarse tile aligner, warps it onto the reference grid, and fuses the
// result with the robust merger (no super-resolution).
func runMerge(frames []*imagebuf.RGBImage, refIndex int, cfg fconfig.Config, bar *diag.Bar) (*imagebuf.RGBImage, error) {
	luma := make([]*imagebuf.Gray, len(frames))
	for i, f := range frames {
		luma[i] = imagebuf.ToGray(f)
	}

	aligner := align.New(cfg.Alignment)
	aligner.SetReference(luma[refIndex])

	warped := make([]*imagebuf.RGBImage, len(frames))
	weights := make([]merge.FrameWeight, len(frames))
	for i, f := range frames {
		if i == refIndex {
			warped[i] = f
			weights[i] = merge.FrameWeight{Confidence: 1, AverageMotion: 0}
			bar.Increment()
			continue
		}
		alignment := aligner.Align(luma[i])
		warped[i] = aligner.Warp(f, alignment)
		weights[i] = merge.FrameWeight{Confidence: alignment.Confidence, AverageMotion: alignment.AverageMotion}
		bar.Increment()
	}

	m := merge.New(cfg.Merge)
	if cfg.Merge.UseNoiseModel {
		noise := merge.EstimateNoise(luma[refIndex])
		return m.MergeWeightedWithNoise(warped, weights, refIndex, noise)
	}
	return m.MergeWeighted(warped, weights)
}

// runMFSR aligns every non-reference frame against the reference and
// accumulates a super-resolved image via the whole-frame MFSR
// accumulator (no tiling).
func runMFSR(frames []*imagebuf.RGBImage, refIndex int, cfg fconfig.Config) (*imagebuf.RGBImage, error) {
	luma := make([]*imagebuf.Gray, len(frames))
	for i, f := range frames {
		luma[i] = imagebuf.ToGray(f)
	}

	aligner := align.New(cfg.Alignment)
	aligner.SetReference(luma[refIndex])

	inputs := make([]mfsr.FrameInput, len(frames))
	for i, f := range frames {
		if i == refIndex {
			inputs[i] = mfsr.FrameInput{RGB: f, Luma: luma[i], IsRef: true, Confidence: 1}
			continue
		}
		alignment := aligner.Align(luma[i])
		inputs[i] = mfsr.FrameInput{RGB: f, Luma: luma[i], Motion: alignment.Field, Confidence: alignment.Confidence}
	}

	result, err := mfsr.Process(refIndex, inputs, cfg.MFSR)
	if err != nil {
		return nil, err
	}
	return result.Image, nil
}

// runTiled runs the full tiled pipeline (per-tile flow + MFSR + blend,
// with whole-frame fallback).
func runTiled(frames []*imagebuf.RGBImage, refIndex int, cfg fconfig.Config, sink diag.Sink, concurrency int) (*imagebuf.RGBImage, error) {
	d := pipeline.New(cfg, sink, concurrency)
	result, err := d.Process(frames, refIndex)
	if err != nil {
		return nil, err
	}
	if result.Fallback != diag.FallbackNone {
		log.Printf("Fell back to whole-frame upscale: %s", result.Fallback)
	}
	return result.Image, nil
}
