package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/identity"
)

// tokenRequestMaxSkew bounds how stale a proof-of-possession signature may be.
const tokenRequestMaxSkew = 5 * time.Minute

// AuthHandler issues operator tokens to callers who prove possession of
// their ledger signing key. There are no passwords or accounts: the Ed25519
// keypair is the credential.
type AuthHandler struct {
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Identity string `json:"identity"  binding:"required"`
	SignedAt int64  `json:"signed_at" binding:"required"`
	Sig      []byte `json:"sig"       binding:"required"`
}

// IssueToken handles POST /auth/token — exchanges a signed challenge for an
// operator token. The caller signs TokenRequestBytes(identity, signed_at)
// with the key behind its identity; signed_at must be within 5 minutes of
// the node's clock.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	skew := time.Since(time.Unix(req.SignedAt, 0))
	if skew < -tokenRequestMaxSkew || skew > tokenRequestMaxSkew {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signed_at outside the accepted window"})
		return
	}

	id := identity.Identity(req.Identity)
	if !id.Verify(identity.TokenRequestBytes(id, req.SignedAt), req.Sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "proof of possession failed"})
		return
	}

	token, err := h.tokens.Issue(id)
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
	})
}
