package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lowaccess/tailgate/internal/logx"
	"github.com/lowaccess/tailgate/internal/server/db"
)

// HandleListAccounts handles GET /admin/accounts.
func HandleListAccounts(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := store.ListAccounts()
		if err != nil {
			logx.Errorf("list accounts: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
			return
		}
		if accounts == nil {
			accounts = []db.Account{}
		}
		c.JSON(http.StatusOK, accounts)
	}
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// HandleSetStatus handles PUT /admin/accounts/:email/status. This is the
// administrative action moving an account out of pending; the store rejects
// every other transition.
func HandleSetStatus(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")

		var req setStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status, err := db.ParseStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		switch err := store.SetAccountStatus(email, status); {
		case err == nil:
			logx.Infof("account %s status set to %s", email, status)
			c.JSON(http.StatusOK, gin.H{"email": email, "status": status})
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, db.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logx.Errorf("set status for %s: %v", email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		}
	}
}

type grantPermissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// HandleGrantPermission handles POST /admin/accounts/:email/permissions.
func HandleGrantPermission(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")

		var req grantPermissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		switch err := store.GrantPermission(email, req.Permission); {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"email": email, "permission": req.Permission})
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			logx.Errorf("grant permission for %s: %v", email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to grant permission"})
		}
	}
}
