package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ragqa/internal/api"
	"ragqa/internal/domain"
	"ragqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ragqa",
		Short:         "Question answering over uploaded text documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default ./config.yaml or ~/.config/ragqa/config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	var logFile string
	chatCmd := &cobra.Command{
		Use:   "chat <file> [file...]",
		Short: "Index files and ask questions interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, logFile, args)
		},
	}
	chatCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of discarding them")

	var (
		files      []string
		k          int
		jsonOutput bool
	)
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Index files and answer one question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, files, args[0], k, jsonOutput)
		},
	}
	askCmd.Flags().StringSliceVarP(&files, "file", "f", nil, "File to index (repeatable)")
	askCmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full answer as JSON")
	_ = askCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, chatCmd, askCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, domain.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := api.NewServer(api.Config{
		ListenAddr:     a.cfg.Server.Addr,
		MaxUploadFiles: a.cfg.Server.MaxUploadFiles,
	}, a.service, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runChat(ctx context.Context, configPath, logFile string, paths []string) error {
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	a, err := newApp(ctx, configPath, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.ingest(ctx, paths)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	m := tui.New(a.service, a.cfg.Retrieval.TopK, summary)
	_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
	return err
}

func runAsk(ctx context.Context, configPath string, paths []string, question string, k int, jsonOutput bool) error {
	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.ingest(ctx, paths); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	ans, err := a.service.Ask(ctx, question, k)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Println(ans.Answer)
	if len(ans.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, s := range ans.Sources {
			fmt.Printf("  %s #%d  distance=%.4f\n", s.Source, s.ChunkIndex, s.Distance)
		}
	}
	fmt.Printf("\nLatency: %.3fs\n", ans.Metrics.LatencySeconds)
	return nil
}
