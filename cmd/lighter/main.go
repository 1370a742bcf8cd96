package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/lighter/internal/auth"
	"github.com/saltyorg/lighter/internal/config"
	"github.com/saltyorg/lighter/internal/database"
	"github.com/saltyorg/lighter/internal/importer"
	"github.com/saltyorg/lighter/internal/logging"
	"github.com/saltyorg/lighter/internal/maintenance"
	"github.com/saltyorg/lighter/internal/records"
	"github.com/saltyorg/lighter/internal/web"
	"github.com/saltyorg/lighter/internal/web/events"
	"github.com/saltyorg/lighter/internal/web/handlers"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultDBPath = "./" + database.DefaultFileName

// CLI flags
var (
	dbPath    string
	verbosity int
	logFile   string

	port        int
	bind        string
	allowSubnet string
	inboxDir    string

	// Timeout flags (advanced)
	operationTimeout time.Duration
	shutdownTimeout  time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lighter",
		Short: "Lighter - local weight record store",
		Long:  `Lighter keeps weight measurements in a local SQLite file and serves them to a UI over a loopback HTTP API.`,
		RunE:  runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", defaultDBPath, "SQLite database path (or set LIGHTER_DB env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	addServeFlags(rootCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordsCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(apiKeyCommand())
	rootCmd.AddCommand(dbCommand())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lighter %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&port, "port", "p", web.DefaultPort, "HTTP server port (or set LIGHTER_PORT env var)")
	cmd.Flags().StringVarP(&bind, "bind", "b", web.DefaultBind, "IP address to bind to")
	cmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	cmd.Flags().StringVar(&inboxDir, "inbox", "", "Directory watched for CSV imports (or set LIGHTER_INBOX env var)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: lighter.log next to the database)")

	// Advanced timeout flags
	defaults := config.DefaultTimeoutConfig()
	cmd.Flags().DurationVar(&operationTimeout, "operation-timeout", defaults.Operation, "Timeout for a single store operation")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaults.Shutdown, "Time allowed for in-flight requests on shutdown")
}

// resolveDBPath applies the LIGHTER_DB env var when --db was left at its default
func resolveDBPath() string {
	if dbPath == defaultDBPath {
		if envDB := os.Getenv("LIGHTER_DB"); envDB != "" {
			return envDB
		}
	}
	return dbPath
}

func runServe(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Changed("port") {
		if envPort := os.Getenv("LIGHTER_PORT"); envPort != "" {
			p, err := strconv.Atoi(envPort)
			if err != nil {
				return fmt.Errorf("invalid LIGHTER_PORT environment variable %q: %w", envPort, err)
			}
			port = p
		}
	}
	if inboxDir == "" {
		inboxDir = os.Getenv("LIGHTER_INBOX")
	}
	path := resolveDBPath()

	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	if ip := net.ParseIP(bind); ip == nil {
		return fmt.Errorf("invalid bind address: %s", bind)
	}

	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	// Console only until the store holds the rotation settings
	logging.Console(verbosity)

	log.Info().
		Str("version", version).
		Str("bind", bind).
		Int("port", port).
		Str("database", path).
		Msg("Starting Lighter")

	provider := database.NewProvider(path)
	defer provider.Close()

	db, err := provider.Get()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if err := db.InitializeDefaults(); err != nil {
		log.Warn().Err(err).Msg("Failed to write default settings")
	}

	loader := config.NewLoader(db)
	if logFile == "" {
		logFile = logging.FilePathForDB(path)
	}
	logCloser := logging.Apply(verbosity, loader, logFile)
	defer logCloser.Close()

	timeouts := config.DefaultTimeoutConfig()
	timeouts.Operation = operationTimeout
	timeouts.Shutdown = shutdownTimeout

	// Record executor and event fan-out
	recordService := records.New(db, records.Config{
		Workers:          loader.Int("records.workers", records.DefaultConfig().Workers),
		QueueSize:        loader.Int("records.queue_size", records.DefaultConfig().QueueSize),
		OperationTimeout: timeouts.Operation,
	})
	broker := events.NewBroker()
	recordService.SetPublisher(broker)
	recordService.Start()
	defer recordService.Stop()

	apiKeys := auth.NewAPIKeyService(db)
	if enabled, err := apiKeys.Enabled(); err != nil {
		log.Warn().Err(err).Msg("Failed to check API key")
	} else if !enabled && !net.ParseIP(bind).IsLoopback() {
		log.Warn().Msg("Server is reachable beyond loopback without an API key. Run 'lighter apikey rotate' to create one.")
	}

	var maintenanceStatus handlers.MaintenanceStatus
	scheduler := maintenance.NewScheduler(db, loader)
	if err := scheduler.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start maintenance scheduler")
	} else {
		defer scheduler.Stop()
		maintenanceStatus = scheduler
	}

	if inboxDir != "" {
		watcher, err := importer.New(inboxDir, recordService, loader.DurationSeconds("importer.debounce_seconds", 2))
		if err != nil {
			log.Fatal().Err(err).Str("inbox", inboxDir).Msg("Failed to create import watcher")
		}
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start import watcher")
		} else {
			defer watcher.Stop()
		}
	}

	server := web.NewServer(recordService, broker, apiKeys, web.Options{
		Bind:       bind,
		Port:       port,
		AllowedNet: allowedNet,
		Timeouts:   timeouts,
		Version:    handlers.VersionInfo{Version: version, Commit: commit, Date: date},

		Maintenance: maintenanceStatus,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Lighter stopped")
	return nil
}
