package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/oauth"
	"github.com/minno-ai/minno/internal/store"
)

func (s *Server) handleInstall(c *gin.Context) {
	p, err := s.installer.Registry().Get(c.Param("provider"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "unknown_provider", err.Error())
		return
	}
	state := c.Query("state")
	if p.Name() == models.ProviderNotion {
		// Notion links are minted by the admin API; anything else is refused
		// here rather than after the user has granted access.
		if _, err := s.installer.VerifyState(string(p.Name()), state); err != nil {
			s.callbackError(c, string(p.Name()), err)
			return
		}
	}
	c.Redirect(http.StatusFound, p.AuthCodeURL(state))
}

func (s *Server) handleNotionInstallLink(c *gin.Context) {
	teamID := c.Param("team_id")
	link, err := s.installer.NotionInstallURL(c.Request.Context(), teamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "workspace "+teamID+" is not installed")
			return
		}
		s.callbackError(c, string(models.ProviderNotion), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"team_id": teamID, "url": link})
}

func (s *Server) handleCallback(c *gin.Context) {
	provider := c.Param("provider")
	if _, err := s.installer.Registry().Get(provider); err != nil {
		writeError(c, http.StatusBadRequest, "unknown_provider", err.Error())
		return
	}
	if e := c.Query("error"); e != "" {
		writeError(c, http.StatusBadRequest, "provider_error", "authorization was not granted: "+e)
		return
	}
	code := c.Query("code")
	if code == "" {
		writeError(c, http.StatusBadRequest, "missing_code", "code query parameter is required")
		return
	}

	inst, err := s.installer.Complete(c.Request.Context(), provider, code, c.Query("state"))
	if err != nil {
		s.callbackError(c, provider, err)
		return
	}

	body := gin.H{
		"success":      true,
		"message":      strings.ToUpper(provider[:1]) + provider[1:] + " installation complete",
		"provider":     inst.Provider,
		"workspace_id": inst.WorkspaceID,
		"team_id":      inst.TeamID,
		"team_name":    inst.TeamName,
		"scopes":       inst.Scopes,
	}
	if inst.BotUserID != "" {
		body["bot_user_id"] = inst.BotUserID
	}
	if inst.NotionID != "" {
		body["notion_workspace_id"] = inst.NotionID
		body["notion_workspace_name"] = inst.NotionName
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) callbackError(c *gin.Context, provider string, err error) {
	var xe *oauth.ExchangeError
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider):
		writeError(c, http.StatusBadRequest, "unknown_provider", err.Error())
	case errors.Is(err, oauth.ErrMissingState):
		writeError(c, http.StatusBadRequest, "missing_state", err.Error())
	case errors.Is(err, oauth.ErrInvalidState):
		s.log.Warn("server: oauth state rejected", "provider", provider, "error", err)
		writeError(c, http.StatusBadRequest, "invalid_state", "state parameter is invalid or expired")
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "no installed workspace matches the state parameter")
	case errors.As(err, &xe):
		s.log.Error("server: oauth exchange failed", "provider", provider, "error", err)
		writeError(c, http.StatusInternalServerError, "exchange_failed", "could not exchange authorization code")
	default:
		s.log.Error("server: oauth callback failed", "provider", provider, "error", err)
		writeError(c, http.StatusInternalServerError, "storage_error", "could not store installation")
	}
}
