// Example runs forward and inverse FFTs through a barretenberg WASM build.
//
//	go run ./example --wasm barretenberg.wasm --circuit-size 4
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	barretenberg "github.com/aperturerobotics/go-barretenberg-wasi"
	"github.com/aperturerobotics/go-barretenberg-wasi/fft"
)

// fileConfig is the optional YAML configuration. Flags override it.
type fileConfig struct {
	WASM         string `yaml:"wasm"`
	InitialPages uint32 `yaml:"initial_pages"`
	CircuitSize  uint32 `yaml:"circuit_size"`
	Workers      int    `yaml:"workers"`
	Debug        bool   `yaml:"debug"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := fileConfig{
		WASM:         barretenberg.DefaultWASMFilename,
		InitialPages: barretenberg.DefaultInitialPages,
		CircuitSize:  4,
		Workers:      1,
	}
	var configPath string

	cmd := &cobra.Command{
		Use:          "bbfft",
		Short:        "Run barretenberg FFTs over WASM",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				var file fileConfig
				if err := loadConfig(configPath, &file); err != nil {
					return err
				}
				mergeConfig(cmd, &cfg, file)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&cfg.WASM, "wasm", cfg.WASM, "path to barretenberg.wasm")
	flags.Uint32Var(&cfg.InitialPages, "initial-pages", cfg.InitialPages, "initial linear memory in 64 KiB pages")
	flags.Uint32Var(&cfg.CircuitSize, "circuit-size", cfg.CircuitSize, "number of field elements (power of two)")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of WASM instances")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log module output")
	return cmd
}

func loadConfig(path string, cfg *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// mergeConfig copies file settings into cfg unless the flag was set.
func mergeConfig(cmd *cobra.Command, cfg *fileConfig, file fileConfig) {
	flags := cmd.Flags()
	if !flags.Changed("wasm") && file.WASM != "" {
		cfg.WASM = file.WASM
	}
	if !flags.Changed("initial-pages") && file.InitialPages != 0 {
		cfg.InitialPages = file.InitialPages
	}
	if !flags.Changed("circuit-size") && file.CircuitSize != 0 {
		cfg.CircuitSize = file.CircuitSize
	}
	if !flags.Changed("workers") && file.Workers != 0 {
		cfg.Workers = file.Workers
	}
	if !flags.Changed("debug") && file.Debug {
		cfg.Debug = true
	}
}

func run(ctx context.Context, cfg fileConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := zap.NewNop()
	if cfg.Debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		defer logger.Sync()
	}

	mod, err := barretenberg.LoadModule(ctx, barretenberg.FileLoader(cfg.WASM))
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	pool, err := fft.NewPool(ctx, mod, fft.PoolConfig{
		Workers:     cfg.Workers,
		CircuitSize: cfg.CircuitSize,
		Wasm: barretenberg.Config{
			InitialPages: cfg.InitialPages,
			Logger:       logger,
		},
	})
	if err != nil {
		return err
	}
	defer pool.Close(ctx)

	size := int(cfg.CircuitSize) * fft.FieldElementSize

	// The transform of the zero vector is zero for any shift.
	zero, err := pool.FFT(ctx, make([]byte, size), make([]byte, fft.FieldElementSize))
	if err != nil {
		return err
	}
	fmt.Printf("fft(0) zero: %v\n", bytes.Equal(zero, make([]byte, size)))

	coeffs := make([]byte, size)
	if _, err := rand.Read(coeffs); err != nil {
		return err
	}
	// Keep each element below the field modulus by clearing the top byte.
	for i := fft.FieldElementSize - 1; i < size; i += fft.FieldElementSize {
		coeffs[i] = 0
	}

	evals, err := pool.IFFT(ctx, coeffs)
	if err != nil {
		return err
	}
	fmt.Printf("ifft: %s\n", hex.EncodeToString(evals))
	return nil
}
