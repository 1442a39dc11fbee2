package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picdeck/internal/cache"
)

func scanCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Load the image metadata from the configured source and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.provider.FetchDataContext(cmd.Context()); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.provider.All())
		},
	}
}

func fetchCommand(g *globals) *cobra.Command {
	var (
		width, height int
		scale         float64
		outDir        string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch [index...]",
		Short: "Fetch images through the cache tiers; all images when no index is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if _, err := a.provider.FetchDataContext(ctx); err != nil {
				return err
			}

			indices, err := parseIndices(args, a.provider.Count())
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}

			size := cache.SizeOf(width, height, scale)
			failed := 0
			for _, i := range indices {
				start := time.Now()
				img, err := a.provider.Image(ctx, i, size, "")
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%d\terror\t%v\n", i, err)
					continue
				}

				meta, _ := a.provider.Metadata(i)
				b := img.Bounds()
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%dx%d\t%s\n", i, meta.ID, b.Dx(), b.Dy(), time.Since(start).Round(time.Millisecond))

				if outDir != "" {
					path := filepath.Join(outDir, fmt.Sprintf("%d.png", i))
					if err := imaging.Save(img, path); err != nil {
						g.log.Warn("Failed to save image", zap.String("path", path), zap.Error(err))
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(indices))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "Requested width in device pixels; 0 with height 0 fetches the original")
	cmd.Flags().IntVar(&height, "height", 0, "Requested height in device pixels")
	cmd.Flags().Float64Var(&scale, "scale", 1, "Device scale factor")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write fetched images to as PNG")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout")
	return cmd
}

func parseIndices(args []string, count int) ([]int, error) {
	if len(args) == 0 {
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	indices := make([]int, 0, len(args))
	for _, arg := range args {
		i, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", arg)
		}
		if i < 0 || i >= count {
			return nil, fmt.Errorf("index %d out of range (0..%d)", i, count-1)
		}
		indices = append(indices, i)
	}
	return indices, nil
}
