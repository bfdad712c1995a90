// Package http exposes a local inspection surface over the engine:
// read-only snapshots plus the user intents (refresh, paging, queue
// operations). It never mutates engine state directly.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/app"
	"github.com/waveroom/spaces/internal/config"
	"github.com/waveroom/spaces/internal/domain"
)

func SetupRouter(cfg *config.Config, engine *app.Engine) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	api.GET("/spaces", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"spaces": engine.Spaces(),
			"error":  engine.LastError(),
		})
	})

	api.GET("/spaces/:id", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		sp, found := engine.Space(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown space"})
			return
		}
		c.JSON(http.StatusOK, sp)
	})

	api.POST("/spaces/:id/view", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		if err := engine.SetActiveSpace(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/spaces/:id/queue", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		sp, found := engine.Space(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown space"})
			return
		}
		c.JSON(http.StatusOK, sp.Queue)
	})

	api.POST("/spaces/:id/queue", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		var req struct {
			UserID int64  `json:"userId"`
			Name   string `json:"name"`
			Image  string `json:"image"`
		}
		if err := c.BindJSON(&req); err != nil || req.UserID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user"})
			return
		}
		added := engine.Enqueue(id, domain.QueueUser{
			ID:    domain.UserID(req.UserID),
			Name:  req.Name,
			Image: req.Image,
		})
		c.JSON(http.StatusOK, gin.H{"added": added})
	})

	api.POST("/spaces/:id/queue/invite-next", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		userID, invited := engine.InviteNext(c.Request.Context(), id)
		c.JSON(http.StatusOK, gin.H{"invited": invited, "userId": userID})
	})

	api.DELETE("/spaces/:id/queue/:userId", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		uid, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		engine.RemoveFromQueue(id, domain.UserID(uid))
		c.Status(http.StatusNoContent)
	})

	api.POST("/spaces/:id/speakers/:userId", func(c *gin.Context) {
		id, ok := spaceID(c)
		if !ok {
			return
		}
		uid, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		promoted := engine.PromoteToSpeaker(id, domain.UserID(uid))
		c.JSON(http.StatusOK, gin.H{"promoted": promoted})
	})

	api.POST("/refresh", func(c *gin.Context) {
		if err := engine.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": engine.LastError()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"spaces": engine.Spaces()})
	})

	api.POST("/next-page", func(c *gin.Context) {
		if err := engine.LoadNextPage(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": engine.LastError()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"spaces": engine.Spaces()})
	})

	api.POST("/prev-page", func(c *gin.Context) {
		if err := engine.LoadPreviousPage(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": engine.LastError()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"spaces": engine.Spaces()})
	})

	api.POST("/position", func(c *gin.Context) {
		var req struct {
			Index int `json:"index"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
			return
		}
		engine.SavePosition(req.Index)
		c.Status(http.StatusNoContent)
	})

	api.GET("/position", func(c *gin.Context) {
		index, page := engine.RestorePosition()
		c.JSON(http.StatusOK, gin.H{"index": index, "page": page})
	})

	return r
}

func spaceID(c *gin.Context) (domain.SpaceID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid space id"})
		return 0, false
	}
	return domain.SpaceID(id), true
}
