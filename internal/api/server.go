// Package api provides a read-only debug and dashboard server exposing the
// run's live statistics over REST and WebSocket.
package api

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tos-network/goldrush/internal/config"
	"github.com/tos-network/goldrush/internal/stats"
	"github.com/tos-network/goldrush/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the debug/dashboard server.
type Server struct {
	cfg    *config.Config
	stats  *stats.Collector
	router *gin.Engine
	server *http.Server

	statsCacheMu   sync.RWMutex
	statsCache     *stats.Snapshot
	statsCacheTime time.Time

	clients   sync.Map // clientID -> *wsClient
	clientSeq uint64

	quit chan struct{}
	wg   sync.WaitGroup
}

type wsClient struct {
	id   uint64
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewServer builds a Server reading snapshots from collector.
func NewServer(cfg *config.Config, collector *stats.Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		stats:  collector,
		router: router,
		quit:   make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		origin := strings.Join(s.cfg.API.CORSOrigins, ",")
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.router.GET("/stats", s.handleStats)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/stream", s.handleStream)
}

// Start begins serving the debug API and the stream broadcast loop.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}

	util.Infof("debug API listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("debug API server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go s.broadcastLoop()

	return nil
}

// Stop shuts down the server and disconnects any streaming clients.
func (s *Server) Stop() error {
	close(s.quit)

	var err error
	if s.server != nil {
		err = s.server.Close()
	}

	s.clients.Range(func(key, value interface{}) bool {
		value.(*wsClient).conn.Close()
		return true
	})

	s.wg.Wait()
	return err
}

// broadcastLoop periodically snapshots Stats and pushes it to every
// connected stream client, at the same cadence the REST cache uses.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	interval := s.cfg.API.StatsCache
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			snap := s.refreshCache()
			s.clients.Range(func(key, value interface{}) bool {
				client := value.(*wsClient)
				client.mu.Lock()
				client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				err := client.conn.WriteJSON(snap)
				client.mu.Unlock()
				if err != nil {
					util.Debugf("stream write error for client %d: %v", client.id, err)
				}
				return true
			})
		}
	}
}

func (s *Server) refreshCache() *stats.Snapshot {
	snap := s.stats.Snapshot()

	s.statsCacheMu.Lock()
	s.statsCache = &snap
	s.statsCacheTime = time.Now()
	s.statsCacheMu.Unlock()

	return &snap
}

func (s *Server) handleStats(c *gin.Context) {
	s.statsCacheMu.RLock()
	cache := s.statsCache
	cacheTime := s.statsCacheTime
	s.statsCacheMu.RUnlock()

	if cache != nil && time.Since(cacheTime) < s.cfg.API.StatsCache {
		c.JSON(http.StatusOK, cache)
		return
	}

	c.JSON(http.StatusOK, s.refreshCache())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStream upgrades to a WebSocket that receives a Snapshot every time
// the broadcast loop fires. The protocol is push-only; reads are drained
// only so the server notices a client disconnect promptly.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.Warnf("stream upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:   atomic.AddUint64(&s.clientSeq, 1),
		conn: conn,
	}
	s.clients.Store(client.id, client)
	util.Debugf("stream client %d connected", client.id)

	go func() {
		defer func() {
			conn.Close()
			s.clients.Delete(client.id)
			util.Debugf("stream client %d disconnected", client.id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
