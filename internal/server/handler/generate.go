package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lowaccess/tailgate/internal/gate"
	"github.com/lowaccess/tailgate/internal/google"
	"github.com/lowaccess/tailgate/internal/logx"
	"github.com/lowaccess/tailgate/internal/server/db"
	"github.com/lowaccess/tailgate/internal/tailnet"
)

type generateTokenRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type generateTokenResponse struct {
	Success bool   `json:"success"`
	AuthKey string `json:"auth_key,omitempty"`
	Message string `json:"message"`
}

// HandleGenerateToken handles POST /auth/generate-token. Only approved
// accounts reach the tailnet API; pending and denied accounts are refused
// with a status-specific message before any upstream call is made.
func HandleGenerateToken(verifier *google.Verifier, accounts *gate.Gate, keys *tailnet.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, generateTokenResponse{Success: false, Message: "id_token is required"})
			return
		}

		id, err := verifier.Verify(c.Request.Context(), req.IDToken)
		if err != nil {
			respondVerifyError(c, err, func(msg string) any {
				return generateTokenResponse{Success: false, Message: msg}
			})
			return
		}

		acct, err := accounts.Authorize(id)
		if err != nil {
			logx.Errorf("account lookup failed for %s: %v", id.Email, err)
			c.JSON(http.StatusServiceUnavailable, generateTokenResponse{Success: false, Message: db.UserMessage(err)})
			return
		}

		switch acct.Status {
		case db.StatusApproved:
			// fall through to key creation
		case db.StatusPending:
			c.JSON(http.StatusOK, generateTokenResponse{
				Success: false,
				Message: "Your account is pending approval. Cannot generate auth keys yet.",
			})
			return
		case db.StatusDenied:
			c.JSON(http.StatusOK, generateTokenResponse{
				Success: false,
				Message: "Your account has been denied access. Cannot generate auth keys.",
			})
			return
		default:
			c.JSON(http.StatusOK, generateTokenResponse{
				Success: false,
				Message: "Account status does not allow auth key generation.",
			})
			return
		}

		key, err := keys.CreateAuthKey(c.Request.Context(), acct.Email)
		if err != nil {
			logx.Errorf("failed to generate auth key for %s: %v", acct.Email, err)
			c.JSON(http.StatusServiceUnavailable, generateTokenResponse{
				Success: false,
				Message: "Unable to generate a network access key. Please try again later or contact support if this persists.",
			})
			return
		}

		c.JSON(http.StatusOK, generateTokenResponse{
			Success: true,
			AuthKey: key,
			Message: "Auth key generated successfully",
		})
	}
}
