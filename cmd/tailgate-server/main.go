package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lowaccess/tailgate/internal/logx"
	"github.com/lowaccess/tailgate/internal/server"
	"github.com/lowaccess/tailgate/internal/server/db"
	"github.com/lowaccess/tailgate/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or TAILGATE_LOG_LEVEL)")
	configFile := flag.String("config", "config.toml", "Path to the TOML config file")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("tailgate-server"))
		fmt.Fprintf(os.Stderr, "Tailgate verifies Google sign-ins and issues tailnet auth keys to approved accounts.\n\n")
		fmt.Fprintf(os.Stderr, "Configuration precedence: flags > environment > config file > defaults.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_GOOGLE_CLIENT_ID   Google OAuth client ID, the expected token audience (required)\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_OAUTH_SECRET_PATH  Path to the tailnet OAuth client secret file (required)\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_API_URL            Tailnet API base URL (default: %s)\n", "https://api.tailscale.com/api/v2")
		fmt.Fprintf(os.Stderr, "  TAILGATE_AUTH_KEY_TAGS      Comma-separated tags applied to created auth keys\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_DB_PATH            SQLite database path (default: tailgate.db)\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_LISTEN_ADDR        Listen address (default: :3000)\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_CORS_ORIGINS       Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_ADMIN_TOKEN        Bearer token enabling the /admin routes (min 16 chars)\n")
		fmt.Fprintf(os.Stderr, "  TAILGATE_LOG_LEVEL          Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("tailgate-server"))
		os.Exit(0)
	}

	configExplicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configExplicit = true
		}
	})

	cfg, err := server.LoadConfig(*configFile, configExplicit)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Flags win over everything the config loader saw.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "db":
			cfg.DBPath = *dbPath
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	level := *logLevel
	if level == "" && !*verbose {
		level = cfg.LogLevel
	}
	if err := logx.Configure(level, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	r := server.NewRouter(store, cfg)
	logx.Infof("server config: audience=%s api_url=%s tags=%v admin_api=%v",
		cfg.GoogleClientID, cfg.APIBaseURL, cfg.AuthKeyTags, cfg.AdminToken != "")

	log.Printf("tailgate-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
