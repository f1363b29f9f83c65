package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lowaccess/tailgate/internal/gate"
	"github.com/lowaccess/tailgate/internal/google"
	"github.com/lowaccess/tailgate/internal/logx"
	"github.com/lowaccess/tailgate/internal/server/db"
)

// validateResponse is the verdict returned for a token validation request.
// Pending and denied accounts still validate successfully; the status field
// of the account tells the frontend what to show.
type validateResponse struct {
	Success bool        `json:"success"`
	Account *db.Account `json:"account,omitempty"`
	Message string      `json:"message"`
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return auth[len("Bearer "):], true
}

// HandleValidate handles GET /auth/validate. It verifies the Google ID
// token from the Authorization header and looks up (or creates) the
// matching account.
func HandleValidate(verifier *google.Verifier, accounts *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or non-Bearer Authorization header"})
			return
		}

		id, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			respondVerifyError(c, err, func(msg string) any {
				return validateResponse{Success: false, Message: msg}
			})
			return
		}

		acct, err := accounts.Authorize(id)
		if err != nil {
			logx.Errorf("account lookup failed for %s: %v", id.Email, err)
			c.JSON(http.StatusServiceUnavailable, validateResponse{Success: false, Message: db.UserMessage(err)})
			return
		}

		logx.Infof("account %s validated (status=%s)", acct.Email, acct.Status)
		c.JSON(http.StatusOK, validateResponse{
			Success: true,
			Account: acct,
			Message: "Authentication and authorization successful",
		})
	}
}

// respondVerifyError splits verification failures per their class: token
// errors are the caller's problem and become a success=false verdict with
// the reason; anything else means we could not reach the key authority, so
// the caller gets a generic retry message and the cause goes to the log.
func respondVerifyError(c *gin.Context, err error, body func(msg string) any) {
	if google.IsTokenError(err) {
		logx.Infof("token validation failed: %v", err)
		c.JSON(http.StatusOK, body("Invalid token: "+err.Error()))
		return
	}
	logx.Errorf("key authority unreachable: %v", err)
	c.JSON(http.StatusServiceUnavailable, body("Unable to verify tokens right now. Please try again later."))
}
