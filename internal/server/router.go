package server

import (
	"github.com/gin-gonic/gin"

	"github.com/lowaccess/tailgate/internal/gate"
	"github.com/lowaccess/tailgate/internal/google"
	"github.com/lowaccess/tailgate/internal/server/db"
	"github.com/lowaccess/tailgate/internal/server/handler"
	"github.com/lowaccess/tailgate/internal/tailnet"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(store *db.Store, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	keys := google.NewKeySetCache(cfg.GoogleCertsURL)
	verifier := google.NewVerifier(cfg.GoogleClientID, keys)
	accounts := gate.New(store)
	keyClient := tailnet.NewClient(cfg.APIBaseURL, cfg.ReadOAuthSecret, cfg.AuthKeyTags)

	r.GET("/", func(c *gin.Context) {
		c.String(200, "tailgate is running")
	})

	auth := r.Group("/auth")
	{
		auth.GET("/validate", handler.HandleValidate(verifier, accounts))
		auth.POST("/generate-token", handler.HandleGenerateToken(verifier, accounts, keyClient))
	}

	// Management surface; disabled entirely unless an admin token is set.
	if cfg.AdminToken != "" {
		admin := r.Group("/admin", AdminAuth(cfg.AdminToken))
		{
			admin.GET("/accounts", handler.HandleListAccounts(store))
			admin.PUT("/accounts/:email/status", handler.HandleSetStatus(store))
			admin.POST("/accounts/:email/permissions", handler.HandleGrantPermission(store))
		}
	}

	return r
}
