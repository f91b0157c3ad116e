package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/storage"
)

// Lifecycle is the slice of the attendance manager the HTTP surface needs.
type Lifecycle interface {
	Start(ctx context.Context, guildID, eventID string, ts int64) (*attendance.StartResult, error)
	Stop(ctx context.Context, guildID, eventID string, ts int64) (*attendance.StopResult, error)
	Reset(ctx context.Context, guildID, eventID string) (bool, error)
}

type Server struct {
	addr    string
	manager Lifecycle
	store   *storage.Storage
	engine  *gin.Engine
}

func NewServer(addr string, manager Lifecycle, store *storage.Storage) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{addr: addr, manager: manager, store: store, engine: engine}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/v1/guilds/:guildID/events/:eventID")
	v1.POST("/start", s.handleStart)
	v1.POST("/stop", s.handleStop)
	v1.POST("/reset", s.handleReset)
	v1.GET("/participation", s.handleParticipation)

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] HTTP API listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type timestampBody struct {
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleStart(c *gin.Context) {
	var body timestampBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	res, err := s.manager.Start(c.Request.Context(), c.Param("guildID"), c.Param("eventID"), body.Timestamp)
	if err != nil {
		c.JSON(startStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"started_at": res.StartedAt,
		"seeded":     res.Seeded,
	})
}

func (s *Server) handleStop(c *gin.Context) {
	var body timestampBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	res, err := s.manager.Stop(c.Request.Context(), c.Param("guildID"), c.Param("eventID"), body.Timestamp)
	if err != nil {
		c.JSON(stopStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ended_at":  res.EndedAt,
		"finalized": res.Finalized,
		"warnings":  res.Warnings,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	found, err := s.manager.Reset(c.Request.Context(), c.Param("guildID"), c.Param("eventID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, attendance.ErrEventActive) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": found})
}

type participationEntry struct {
	UserID             string `json:"user_id"`
	UserTag            string `json:"user_tag"`
	AccumulatedSeconds int64  `json:"accumulated_seconds"`
	Engaged            bool   `json:"engaged"`
}

func (s *Server) handleParticipation(c *gin.Context) {
	eventID := c.Param("eventID")

	records, err := s.store.FindParticipationByEvent(eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	entries := make([]participationEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, participationEntry{
			UserID:             rec.Record.UserID,
			UserTag:            rec.Record.UserTag,
			AccumulatedSeconds: rec.Record.AccumulatedSeconds,
			Engaged:            rec.Record.Engaged(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccumulatedSeconds != entries[j].AccumulatedSeconds {
			return entries[i].AccumulatedSeconds > entries[j].AccumulatedSeconds
		}
		return entries[i].UserID < entries[j].UserID
	})

	c.JSON(http.StatusOK, gin.H{
		"event_id":      eventID,
		"participation": entries,
	})
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, attendance.ErrEventExists),
		errors.Is(err, attendance.ErrChannelBusy):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrGuildMismatch):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func stopStatus(err error) int {
	switch {
	case errors.Is(err, attendance.ErrEventNotActive):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
