package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/config"
	"thyroidscan/pkg/inference"
	"thyroidscan/pkg/inference/loader"
	"thyroidscan/pkg/inference/onnx"
	"thyroidscan/pkg/pipeline"
	"thyroidscan/pkg/report"
)

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "Ultrasound image, GIF or directory of frames")
	projection := flag.String("projection", "all", "Probe orientation: cross, long or all")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration")
	resultID := flag.Int("result-id", 0, "Identifier carried into the report")
	output := flag.String("output", "report.json", "Report output file")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save intermediary results during processing")
	intermediaryDir := flag.String("intermediary-dir", "", "Directory to save intermediary results (overrides config)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}
	proj, err := inference.ParseProjection(*projection)
	if err != nil {
		log.Fatalf("Invalid projection: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *saveIntermediary {
		cfg.Output.SaveIntermediaryResults = true
	}
	if *intermediaryDir != "" {
		cfg.Output.IntermediaryDir = *intermediaryDir
	}
	if !cfg.Output.Verbose {
		monitoring.SetLogger(nil)
	}

	fmt.Println("================================")
	fmt.Println("THYROID ULTRASOUND NODULE DETECTION, SEGMENTATION AND TIRADS CLASSIFICATION")
	fmt.Println("================================")

	backend, err := onnx.NewBackend(cfg.Models.ORTLibrary)
	if err != nil {
		log.Fatalf("Failed to initialise ONNX Runtime: %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Printf("Warning: failed to release models: %v", err)
		}
		if err := onnx.Shutdown(); err != nil {
			log.Printf("Warning: failed to shut down ONNX Runtime: %v", err)
		}
	}()

	loaded, err := loader.NewRegistry(cfg, backend).Load()
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}

	orchestrator, err := pipeline.New(pipeline.Stages{
		Cropper:        loaded.Cropper,
		Tracker:        loaded.Tracker,
		Segmentation:   loaded.Segmentation,
		Classification: loaded.Classification,
	}, pipeline.Params{
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Processing %s (projection %s)...\n", *input, proj)
	startTime := time.Now()
	res, err := orchestrator.RunFile(ctx, *input, proj, *resultID)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
	processingTime := time.Since(startTime)

	rep := res.Report()
	if err := report.Write(rep, *output); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	fmt.Printf("\nRun %s completed in %.2f seconds!\n", res.RunID, processingTime.Seconds())
	fmt.Printf("Frames: %d (%dx%d)\n", rep.Frames, rep.OriginalWidth, rep.OriginalHeight)
	fmt.Println("\nClassification:")
	fmt.Println("=======================================")
	for _, line := range rep.Summary() {
		fmt.Println(line)
	}
	fmt.Printf("\nReport saved to: %s\n", *output)

	if cfg.Output.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s/%s\n", cfg.Output.IntermediaryDir, res.RunID)
		fmt.Println("The following stages were saved:")
		fmt.Println("- 01_cropped_frames: Frames after border cropping")
		fmt.Println("- 02_rois: Enlarged nodule ROIs per nodule")
		fmt.Println("- 03_masks: Per-frame segmentation masks")
		fmt.Println("- 04_overlays: Masks and boxes over the original frames")
		fmt.Println("- 05_nodule_areas: ROI area per frame for each tracked nodule")
	}
}
