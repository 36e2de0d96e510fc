// Command sentinel runs the crisis ensemble engine: an HTTP service, a
// one-shot analyzer, and an interactive scoring REPL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	sentinel "github.com/vigil-ai/sentinel"
	"github.com/vigil-ai/sentinel/internal/observability"
	"github.com/vigil-ai/sentinel/pkg/config"
	metrics "github.com/vigil-ai/sentinel/pkg/observability"
	"github.com/vigil-ai/sentinel/server"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Crisis signal ensemble engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configFile string
	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("SENTINEL_CONFIG"), "configuration file (YAML)")

	root.AddCommand(
		serveCmd(&configFile),
		analyzeCmd(&configFile),
		replCmd(&configFile),
		configCmd(&configFile),
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("sentinel: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			if err := observability.InitFromEnv(); err != nil {
				return fmt.Errorf("tracing init: %w", err)
			}
			metrics.InitMetrics()

			engine, err := sentinel.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			checker := metrics.NewChecker()
			checker.Register(metrics.Check{
				Name: "engine",
				Probe: func(ctx context.Context) error {
					_, err := engine.Analyze(ctx, sentinel.Request{Message: "health probe"})
					return err
				},
				Timeout:  2 * time.Second,
				Critical: true,
			})

			obsServer := metrics.NewServer(cfg.Server.MetricsAddr, checker)
			apiServer := server.New(engine, cfg.Server)

			errCh := make(chan error, 2)
			go func() {
				log.Printf("Starting analysis API on %s", cfg.Server.Addr)
				if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("api server: %w", err)
				}
			}()
			go func() {
				log.Printf("Starting metrics/health on %s", cfg.Server.MetricsAddr)
				if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("observability server: %w", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-quit:
				log.Println("Shutting down...")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(ctx); err != nil {
				log.Printf("api shutdown: %v", err)
			}
			if err := obsServer.Shutdown(ctx); err != nil {
				log.Printf("observability shutdown: %v", err)
			}
			if err := observability.Shutdown(ctx); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
			return nil
		},
	}
}

func analyzeCmd(configFile *string) *cobra.Command {
	var verbosity string
	cmd := &cobra.Command{
		Use:   "analyze [message]",
		Short: "Score a single message and print the assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			engine, err := sentinel.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			a, err := engine.Analyze(cmd.Context(), sentinel.Request{
				Message: args[0],
				Options: &sentinel.Options{Verbosity: verbosity},
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(a, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&verbosity, "verbosity", "standard", "explanation verbosity (minimal, standard, detailed)")
	return cmd
}

func replCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactively score messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			engine, err := sentinel.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()
			line.SetCtrlCAborts(true)

			fmt.Println("sentinel repl — type a message, ctrl-d to exit")
			for {
				input, err := line.Prompt("> ")
				if err != nil {
					return nil // EOF or ctrl-c ends the session
				}
				if strings.TrimSpace(input) == "" {
					continue
				}
				line.AppendHistory(input)

				a, err := engine.Analyze(cmd.Context(), sentinel.Request{Message: input})
				if err != nil {
					fmt.Printf("error: %v\n", err)
					continue
				}
				fmt.Printf("%s  score=%.2f  confidence=%.2f  action=%s\n",
					a.Severity, a.CrisisScore, a.Confidence, a.RecommendedAction)
				fmt.Printf("  %s\n", a.Explanation.DecisionSummary)
			}
		},
	}
}

func configCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d sources enabled, algorithm=%s, policy=%s\n",
				len(cfg.EnabledSources()), cfg.Algorithm, cfg.ResolutionPolicy)
			return nil
		},
	})
	return cmd
}
