package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/seonho/gympt/internal/config"
	"github.com/seonho/gympt/internal/httpapi"
	"github.com/seonho/gympt/internal/llm"
	"github.com/seonho/gympt/internal/memory"
	"github.com/seonho/gympt/internal/observability"
	"github.com/seonho/gympt/internal/ocr"
	"github.com/seonho/gympt/internal/rerank"
	"github.com/seonho/gympt/internal/retrieval"
	"github.com/seonho/gympt/internal/speech"
	"github.com/seonho/gympt/internal/store"
	"github.com/seonho/gympt/internal/youtube"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gympt server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gympt server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gympt server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "gympt.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "gympt version %s\n", version)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("gympt is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("gympt is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Storage.DataDir, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		Endpoint:        cfg.OpenAI.Endpoint,
		APIKey:          cfg.OpenAI.APIKey,
		APIVersion:      cfg.OpenAI.APIVersion,
		ChatDeployment:  cfg.OpenAI.ChatDeployment,
		EmbedDeployment: cfg.OpenAI.EmbedDeployment,
	})

	// Memory pipeline: gate, vector retrieval, cross-encoder re-rank,
	// short-term cache.
	retriever := retrieval.NewRetriever(st, cfg.Memory.RetrieveK)
	var scorer rerank.Scorer
	if cfg.Rerank.Endpoint != "" {
		scorerClient := &http.Client{Timeout: time.Duration(cfg.Rerank.TimeoutSeconds) * time.Second}
		scorer = rerank.NewHTTPScorer(cfg.Rerank.Endpoint, cfg.Rerank.APIKey, scorerClient)
	} else {
		slog.Warn("no rerank endpoint configured, keeping similarity order")
		scorer = similarityOrderScorer{}
	}
	reranker := rerank.NewReranker(scorer, cfg.Rerank.FinalK, nil)
	gate := memory.NewGate(llmClient, nil)
	cache := memory.NewShortTermCache(cfg.Memory.CacheSize)
	manager := memory.NewManager(st, llmClient, retriever, reranker, gate, cache, nil)

	metrics := observability.NewMetrics("gympt")

	var imageReader ocr.Reader
	if cfg.Vision.Endpoint != "" {
		imageReader = ocr.NewAzureReader(cfg.Vision.Endpoint, cfg.Vision.Key, nil)
	}

	var synth speech.Synthesizer
	var batchSynth *speech.AzureSynthesizer
	if cfg.Speech.Endpoint != "" {
		batchSynth = speech.NewAzureSynthesizer(speech.AzureConfig{
			Endpoint: cfg.Speech.Endpoint,
			Region:   cfg.Speech.Region,
			Key:      cfg.Speech.Key,
		}, nil)
		synth = batchSynth
	}

	var videos youtube.Searcher
	if cfg.YouTube.APIKey != "" {
		videos = youtube.NewClient(cfg.YouTube.APIKey, 0, nil)
	}

	apiServer := httpapi.NewServer(httpapi.Options{
		Store:   st,
		Memory:  manager,
		LLM:     llmClient,
		OCR:     imageReader,
		Synth:   synth,
		Videos:  videos,
		Metrics: metrics,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: apiServer.Router(cfg.Server.AuthToken),
	}

	// Batch TTS worker.
	if batchSynth != nil {
		worker := speech.NewWorker(st, batchSynth, 0, nil)
		go worker.Run(ctx)
	}

	// MCP server over stdio.
	mcpSrv := httpapi.NewMCPServer(httpapi.MCPDeps{
		Memory: manager,
		Store:  st,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "gympt listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// similarityOrderScorer scores every candidate equally so the reranker's
// stable sort preserves the cosine similarity order.
type similarityOrderScorer struct{}

func (similarityOrderScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	return make([]float64, len(texts)), nil
}

func stopServer() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("gympt is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop gympt (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to gympt (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	backend := "sqlite"
	if cfg.Storage.DatabaseURL != "" {
		backend = "postgres"
	}
	printStatus("Storage", "%s", backend)
	printStatus("Chat model", "%s", cfg.OpenAI.ChatDeployment)
	printStatus("Embed model", "%s", cfg.OpenAI.EmbedDeployment)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
