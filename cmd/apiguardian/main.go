package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"apiguardian/internal/auth"
	"apiguardian/internal/config"
	"apiguardian/internal/engine"
	"apiguardian/internal/server"
)

// Version is set at compile time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "apiguardian",
	Short: "Autonomous API security analysis and remediation",
	Long: `APIGuardian analyzes API endpoint descriptors against the OWASP API
Top 10, plans remediations through an LLM-backed decision engine with a
deterministic fallback, and applies fixes under strict safety policy.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load .env file if it exists
		if err := godotenv.Load(); err == nil {
			log.Println("✅ .env file loaded successfully")
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Println("╔════════════════════════════════════════════════════════════╗")
		log.Println("║       APIGuardian - Autonomous API Security Engine         ║")
		log.Println("║      Decide • Remediate Safely • Verify • Roll Back        ║")
		log.Println("╚════════════════════════════════════════════════════════════╝")

		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		eng, err := engine.New(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(eng, cfg.Server)
		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		log.Println("🛑 APIGuardian shut down.")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <descriptor.json>",
	Short: "Analyze one endpoint descriptor and print the report",
	Long: `Reads an analysis request (endpoint descriptor plus business context)
from the given JSON file, or from stdin when the argument is "-", runs the
full pipeline once and prints the execution report as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}

		var req engine.AnalysisRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse request: %w", err)
		}

		cfg := config.Load()
		eng, err := engine.New(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := eng.AnalyzeEndpoint(ctx, req)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <service-name>",
	Short: "Mint a service token for a collaborator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ts := auth.NewTokenService(cfg.Server.ServiceToken)
		if !ts.Enabled() {
			return fmt.Errorf("SERVICE_TOKEN_SECRET is not set")
		}

		token, err := ts.Mint(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, analyzeCmd, tokenCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
