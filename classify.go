package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/inference"
)

type classifyOutput struct {
	File        string                 `json:"file"`
	Label       string                 `json:"label,omitempty"`
	Probability float64                `json:"probability"`
	TopK        []classifier.TopKEntry `json:"topk"`
	SkinRatio   float64                `json:"skin_ratio"`
	Gate        inference.Gate         `json:"gate,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func newClassifyCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <image>...",
		Short: "Classify image files and print one JSON decision per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			mc, err := loadModel(cfg, logger)
			if err != nil {
				return err
			}
			defer closeModel(mc) //nolint:errcheck

			pipeline := inference.New(mc, cfg.PipelineOptions(), logger)
			enc := json.NewEncoder(cmd.OutOrStdout())

			failed := 0
			for _, path := range args {
				out := classifyFile(cmd, pipeline, path)
				if out.Error != "" {
					failed++
					logger.Warn("classification failed", zap.String("file", path), zap.String("error", out.Error))
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be classified", failed, len(args))
			}
			return nil
		},
	}
}

func classifyFile(cmd *cobra.Command, pipeline *inference.Pipeline, path string) classifyOutput {
	out := classifyOutput{File: filepath.Base(path), TopK: []classifier.TopKEntry{}}

	f, err := os.Open(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer f.Close()

	d, err := pipeline.Run(cmd.Context(), inference.ReaderSource{R: f})
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Label = d.Outcome
	out.Probability = d.Confidence
	out.TopK = d.TopK
	out.SkinRatio = d.SkinRatio
	out.Gate = d.Gate
	return out
}
