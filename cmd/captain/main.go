package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	captain "github.com/johnhenry/ai.captain-sub000"
	"github.com/johnhenry/ai.captain-sub000/cache"
	"github.com/johnhenry/ai.captain-sub000/model"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "captain",
		Short:        "Resilient cached generation against an on-device model",
		SilenceUsage: true,
	}
	root.AddCommand(generateCmd(), statsCmd(), versionCmd())
	return root
}

// newClient wires a Client from an optional config file, backed by a
// scripted echo model. Real deployments swap in a host backend here.
func newClient(ctx context.Context, configPath string, latency time.Duration) (*captain.Client, error) {
	cfg := captain.DefaultFileConfig()
	if configPath != "" {
		loaded, err := captain.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var opts []captain.ClientOption
	fb, err := cfg.FallbackConfig()
	if err != nil {
		return nil, err
	}
	opts = append(opts, captain.WithFallback(fb))

	if cfg.Cache.Enabled {
		storeOpts, err := cfg.CacheOptions()
		if err != nil {
			return nil, err
		}
		store, err := cache.NewMemory(ctx, storeOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, captain.WithCache(store, cfg.Cache.TTL.Std()))
	}

	primary := model.NewScript("device", model.WithEcho(), model.WithLatency(latency))
	return captain.NewClient(ctx, primary, opts...)
}

func generateCmd() *cobra.Command {
	var (
		configPath string
		cached     bool
		stream     bool
		latency    time.Duration
		temp       float64
		topK       int
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a response for a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newClient(ctx, configPath, latency)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := &model.Options{}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = &temp
			}
			if cmd.Flags().Changed("top-k") {
				opts.TopK = &topK
			}

			prompt := args[0]
			switch {
			case stream:
				ch, err := client.GenerateStream(ctx, prompt, opts)
				if err != nil {
					return err
				}
				for chunk := range ch {
					fmt.Print(chunk)
				}
				fmt.Println()
			case cached:
				result, hit, err := client.GenerateCached(ctx, prompt, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "cache hit: %v\n", hit)
				fmt.Println(result)
			default:
				result, err := client.Generate(ctx, prompt, opts)
				if err != nil {
					return err
				}
				fmt.Println(result)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	cmd.Flags().BoolVar(&cached, "cached", false, "answer from the response cache when possible")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")
	cmd.Flags().DurationVar(&latency, "latency", 0, "simulated model latency")
	cmd.Flags().Float64Var(&temp, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&topK, "top-k", 0, "top-k sampling bound")
	return cmd
}

func statsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Generate a sample and print client statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := newClient(ctx, configPath, 0)
			if err != nil {
				return err
			}
			defer client.Close()

			if _, _, err := client.GenerateCached(ctx, "warmup", nil); err != nil {
				return err
			}
			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("cache: size=%d hits=%d misses=%d hit-rate=%.2f\n",
				stats.Cache.Size, stats.Cache.Hits, stats.Cache.Misses, stats.Cache.HitRate)
			for name, rec := range stats.Health {
				fmt.Printf("backend %s: status=%s latency=%s errors=%d\n",
					name, rec.Status, rec.Latency, rec.ErrorCount)
			}
			names := make([]string, 0, len(stats.Metrics))
			for name := range stats.Metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				m := stats.Metrics[name]
				fmt.Printf("metric %s: count=%d avg=%.2f min=%.2f max=%.2f\n",
					name, m.Count, m.Average, m.Min, m.Max)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the captain version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(strings.TrimSpace(version))
		},
	}
}
