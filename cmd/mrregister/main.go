package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"mrregister/internal/logger"
	"mrregister/internal/workerpool"
	"mrregister/pkg/config"
	"mrregister/pkg/filter"
	"mrregister/pkg/nifti"
	"mrregister/pkg/registration"
	"mrregister/pkg/transform"
	"mrregister/pkg/volume"
)

func main() {
	// Parse command line arguments
	fixedPath := flag.String("fixed", "", "First (fixed) image, NIfTI .nii or .nii.gz")
	movingPath := flag.String("moving", "", "Second (moving) image, NIfTI .nii or .nii.gz")
	mask1Path := flag.String("mask1", "", "Optional mask of the first image")
	mask2Path := flag.String("mask2", "", "Optional mask of the second image")
	configPath := flag.String("config", "mrregister.yaml", "YAML configuration file (defaults are used if missing)")
	createConfig := flag.Bool("create-config", false, "Write the default configuration to -config and exit")
	transformType := flag.String("type", "", "Transform type: rigid or affine (overrides config)")
	metricName := flag.String("metric", "", "Similarity metric: mse, ncc or lncc (overrides config)")
	initMatrix := flag.String("init-matrix", "", "Start from this 4x4 matrix instead of initialising from the images")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (overrides config)")
	outMatrix := flag.String("out-matrix", "transform.txt", "Output file for the estimated 4x4 transform")
	outImage := flag.String("out-image", "moving_resliced.nii.gz", "Output file for the moving image resliced onto the fixed grid")
	debugDir := flag.String("debug-dir", "", "Directory for per-level debug images (overrides config)")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	// Validate inputs
	if *fixedPath == "" || *movingPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *transformType != "" {
		cfg.Registration.Transform = *transformType
	}
	if *metricName != "" {
		cfg.Registration.Metric = *metricName
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *debugDir != "" {
		cfg.Output.DebugDir = *debugDir
	}
	if *initMatrix != "" {
		cfg.Registration.InitType = "none"
	}

	fmt.Println("================================")
	fmt.Println("MULTI-RESOLUTION LINEAR REGISTRATION OF 3D IMAGES")
	fmt.Printf("%s registration, %s metric, %s strategy\n",
		cfg.Registration.Transform, cfg.Registration.Metric, cfg.Registration.Strategy)
	fmt.Println("================================")

	reg := registration.NewLinear()
	reg.SetLogger(logger.NewStdOutLogger(cfg.LogLevel()))
	if err := cfg.Apply(reg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	tr, err := cfg.NewTransform()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	m, err := cfg.NewMetric()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *initMatrix != "" {
		start, err := transform.LoadMatrix(*initMatrix)
		if err != nil {
			log.Fatalf("Failed to load initial matrix: %v", err)
		}
		if err := tr.SetMatrix(start); err != nil {
			log.Fatalf("Invalid initial matrix: %v", err)
		}
	}

	if cfg.Optimiser.LogFile != "" {
		f, err := os.Create(cfg.Optimiser.LogFile)
		if err != nil {
			log.Fatalf("Failed to create optimiser log: %v", err)
		}
		defer f.Close()
		reg.SetLogStream(f)
	}

	// Load images
	fmt.Println("Loading images...")
	fixed := mustRead(*fixedPath, "fixed image")
	moving := mustRead(*movingPath, "moving image")
	var mask1, mask2 *volume.Volume
	if *mask1Path != "" {
		mask1 = mustRead(*mask1Path, "first mask")
	}
	if *mask2Path != "" {
		mask2 = mustRead(*mask2Path, "second mask")
	}
	fmt.Printf("Fixed:  %v\n", fixed.Header)
	fmt.Printf("Moving: %v\n", moving.Header)
	if *initMatrix != "" {
		// rotate about the fixed image centre; the mapping is unchanged
		tr.SetCentre(fixed.Header.Centre())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Run the registration
	fmt.Println("Starting registration...")
	startTime := time.Now()
	if err := reg.RunMasked(ctx, m, tr, fixed, moving, mask1, mask2); err != nil {
		log.Fatalf("Registration failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nRegistration completed successfully in %.2f seconds!\n", processingTime.Seconds())
	for _, s := range reg.Summaries() {
		fmt.Printf("- %v\n", s)
	}

	if err := transform.SaveMatrix(*outMatrix, tr.Matrix()); err != nil {
		log.Fatalf("Failed to save transform: %v", err)
	}
	fmt.Printf("Transform saved to: %s\n", *outMatrix)

	if cfg.Output.SaveResliced && *outImage != "" {
		pool := workerpool.New(cfg.Processing.NumCores)
		resliced, err := filter.Reslice(moving, fixed.Header, tr.Matrix(), filter.InterpLinear, pool)
		if err != nil {
			log.Fatalf("Failed to reslice moving image: %v", err)
		}
		if err := nifti.Write(*outImage, resliced); err != nil {
			log.Fatalf("Failed to save resliced image: %v", err)
		}
		fmt.Printf("Resliced moving image saved to: %s\n", *outImage)
	}

	if cfg.Output.DebugDir != "" {
		fmt.Println("\nDebug images saved to:")
		fmt.Printf("%s\n", cfg.Output.DebugDir)
	}
}

func mustRead(path, what string) *volume.Volume {
	v, err := nifti.Read(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", what, err)
	}
	return v
}
