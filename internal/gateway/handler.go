package gateway

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/pria-cloud/app-composer/internal/auth"
	"github.com/pria-cloud/app-composer/internal/composer"
	"github.com/pria-cloud/app-composer/internal/continuity"
	"github.com/pria-cloud/app-composer/internal/models"
	"github.com/pria-cloud/app-composer/internal/sandbox"
)

// IntentAppCompose is the only intent this service handles
const IntentAppCompose = "app.compose"

const previewPort = 3000

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	composerService *composer.Service
	sessions        *sandbox.Manager
	conversations   *continuity.Manager
	jwtManager      *auth.JWTManager
	pool            *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(composerService *composer.Service, sessions *sandbox.Manager, conversations *continuity.Manager, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		composerService: composerService,
		sessions:        sessions,
		conversations:   conversations,
		jwtManager:      jwtManager,
		pool:            pool,
	}
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	// Lookup user in database
	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.HashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	// Verify password using bcrypt
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		user.ID,
		user.Email,
		"",
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: user.ID,
	})
}

// ComposeIntentRequest is one app.compose turn from a client
type ComposeIntentRequest struct {
	Intent         string                      `json:"intent" binding:"required"`
	UserInput      string                      `json:"userInput"`
	AppSpec        *composer.ApplicationSpec   `json:"appSpec,omitempty"`
	ConversationID string                      `json:"conversationId,omitempty"`
	History        []composer.ConversationTurn `json:"history,omitempty"`
}

// ComposeIntent godoc
// @Summary Submit an app.compose intent turn
// @Description Advance requirement discovery or, once confirmed, start a background build
// @Tags intents
// @Accept json
// @Produce json
// @Param request body ComposeIntentRequest true "Intent turn"
// @Success 200 {object} composer.IntentResponse
// @Success 202 {object} composer.IntentResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /intents [post]
func (h *Handler) ComposeIntent(c *gin.Context) {
	var req ComposeIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	if req.Intent != IntentAppCompose {
		log.Printf(`{"level":"warn","message":"Unknown intent","intent":"%s"}`, req.Intent)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Unknown intent: " + req.Intent,
			Code:  models.ErrCodeUnknownIntent,
		})
		return
	}

	resp := h.composerService.HandleIntent(c.Request.Context(), composer.IntentRequest{
		UserInput:      req.UserInput,
		AppSpec:        req.AppSpec,
		ConversationID: req.ConversationID,
		History:        req.History,
	})

	status := http.StatusOK
	if resp.Status == composer.StatusAccepted {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// GetIntentResult godoc
// @Summary Poll a build result
// @Description Return the current state of a background build
// @Tags intents
// @Produce json
// @Param conversation_id path string true "Conversation ID"
// @Success 200 {object} composer.BuildResult
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /intents/{conversation_id} [get]
func (h *Handler) GetIntentResult(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	result, ok := h.composerService.Results().Get(conversationID)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "No build for conversation " + conversationID,
			Code:  models.ErrCodeBuildNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// AgentTurnRequest is one prompt addressed to a session's coding agent
type AgentTurnRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// AgentTurn godoc
// @Summary Run an agent turn in a session
// @Description Execute an agent prompt inside the session's sandbox, restoring conversational context first
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body AgentTurnRequest true "Agent prompt"
// @Success 200 {object} continuity.TurnResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/agent [post]
func (h *Handler) AgentTurn(c *gin.Context) {
	sessionID := c.Param("id")

	var req AgentTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	result, err := h.conversations.RunTurn(c.Request.Context(), sessionID, req.Prompt)
	if err != nil {
		log.Printf(`{"level":"error","message":"Agent turn failed","session_id":"%s","error":"%v"}`, sessionID, err)
		if errors.Is(err, sandbox.ErrSandboxUnavailable) {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Error: "Sandbox unavailable for session " + sessionID,
				Code:  models.ErrCodeSandboxUnavailable,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Agent turn failed", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, result)
}

// TerminateSession godoc
// @Summary Terminate a session
// @Description Tear down the session's sandbox and forget its state
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /sessions/{id} [delete]
func (h *Handler) TerminateSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.sessions.Terminate(c.Request.Context(), sessionID); err != nil {
		log.Printf(`{"level":"error","message":"Session termination failed","session_id":"%s","error":"%v"}`, sessionID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to terminate session", Code: models.ErrCodeInternalError})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPreview godoc
// @Summary Get a session's preview link
// @Description Return the authenticated preview endpoint for the session's dev server
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} sandbox.PreviewLink
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/preview [get]
func (h *Handler) GetPreview(c *gin.Context) {
	sessionID := c.Param("id")

	link, err := h.sessions.PreviewLink(c.Request.Context(), sessionID, previewPort)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) || errors.Is(err, sandbox.ErrSandboxUnavailable) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: "No sandbox for session " + sessionID,
				Code:  models.ErrCodeSessionNotFound,
			})
			return
		}
		log.Printf(`{"level":"error","message":"Preview link failed","session_id":"%s","error":"%v"}`, sessionID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get preview link", Code: models.ErrCodeInternalError})
		return
	}
	c.JSON(http.StatusOK, link)
}
