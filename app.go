package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/classifier/onnx"
	"github.com/example/mediscan/internal/classifier/tflite"
	"github.com/example/mediscan/internal/config"
	"github.com/example/mediscan/internal/inference"
	"github.com/example/mediscan/internal/usecase"
	"github.com/example/mediscan/internal/vision"
)

// loadModel opens the configured classifier backend. Failures are
// *classifier.ModelLoadError and must stop the process.
func loadModel(cfg *config.Config, logger *zap.Logger) (*classifier.ModelContext, error) {
	opts := classifier.LoadOptions{
		Backend:    cfg.Model.Backend,
		ModelPath:  cfg.Model.Path,
		LabelsPath: cfg.Model.LabelsPath,
		Instances:  cfg.Model.Instances,
	}

	switch cfg.Model.Backend {
	case tflite.Backend:
		opts.Open = tflite.Opener(cfg.Model.Threads, logger)
	case onnx.Backend:
		labels, err := classifier.LoadLabels(cfg.Model.LabelsPath)
		if err != nil {
			return nil, &classifier.ModelLoadError{Path: cfg.Model.LabelsPath, Err: err}
		}
		opts.Open = onnx.Opener(onnx.Options{
			SharedLibraryPath: cfg.Model.ONNXLibrary,
			InputName:         cfg.Model.ONNXInput,
			OutputName:        cfg.Model.ONNXOutput,
			NumClasses:        labels.Len(),
		})
	default:
		return nil, &classifier.ModelLoadError{Path: cfg.Model.Path, Err: fmt.Errorf("unknown backend %q", cfg.Model.Backend)}
	}

	start := time.Now()
	mc, err := classifier.Load(opts)
	if err != nil {
		return nil, err
	}
	logger.Info("model loaded",
		zap.String("backend", mc.Backend),
		zap.String("path", cfg.Model.Path),
		zap.Int("labels", mc.Labels.Len()),
		zap.Int("instances", mc.Runtime.Size()),
		zap.Duration("elapsed", time.Since(start)))
	return mc, nil
}

// closeModel releases the runtime sessions and, for ONNX, the shared environment.
func closeModel(mc *classifier.ModelContext) error {
	err := mc.Close()
	if mc != nil && mc.Backend == onnx.Backend {
		err = errors.Join(err, onnx.Shutdown())
	}
	return err
}

// decisionNamespace fingerprints everything a cached decision depends on:
// the model artifact, the label file and the pipeline options. Any change
// to one of them moves decisions to a fresh cache namespace.
func decisionNamespace(modelPath, labelsPath string, opts inference.Options) (string, error) {
	h := sha1.New()
	for _, path := range []string{modelPath, labelsPath} {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
	}

	settings, err := json.Marshal(struct {
		Thresholds inference.Thresholds
		CropFactor float64
		Size       int
		Mean       [vision.Channels]float32
		Std        [vision.Channels]float32
		TopK       int
		AutoOrient bool
	}{
		Thresholds: opts.Thresholds,
		CropFactor: opts.Preprocessor.CropFactor,
		Size:       opts.Preprocessor.Size,
		Mean:       opts.Preprocessor.Mean,
		Std:        opts.Preprocessor.Std,
		TopK:       opts.TopK,
		AutoOrient: opts.Decoder.AutoOrient,
	})
	if err != nil {
		return "", err
	}
	h.Write(settings)
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// length prefix keeps file boundaries unambiguous
	info, err := f.Stat()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d:", info.Size())
	_, err = io.Copy(w, f)
	return err
}

// openCache returns the configured cache and a function releasing it.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (usecase.Cache, func() error, error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("using redis cache", zap.String("addr", cfg.Cache.RedisAddr))
		return usecase.NewRedisCache(client), client.Close, nil
	default:
		logger.Info("using in-memory cache")
		return usecase.NewMemoryCache(cfg.Cache.RecordTTL), func() error { return nil }, nil
	}
}
