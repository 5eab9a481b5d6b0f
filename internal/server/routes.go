package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/spike"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type loadRequest struct {
	// Path names a network file readable by the server.
	Path string `json:"path"`
	// Network is an inline neuro JSON network; it wins over Path.
	Network json.RawMessage `json:"network"`
}

type spikeBody struct {
	ID    int     `json:"id"`
	Time  int     `json:"time"`
	Value float64 `json:"value"`
}

type spikesRequest struct {
	Spikes []spikeBody `json:"spikes"`
}

type runRequest struct {
	Duration int `json:"duration"`
}

type outputsResponse struct {
	Session    string  `json:"session"`
	Counts     []int   `json:"counts"`
	LastFires  []int   `json:"last_fires"`
	Vectors    [][]int `json:"vectors"`
	InputClock int64   `json:"input_clock"`
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		in, out := s.proc.Clocks()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"server":    s.ID,
			"state":     s.proc.State().String(),
			"session":   s.proc.SessionID(),
			"in_clock":  in,
			"out_clock": out,
			"version":   Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/schema", func(c *gin.Context) {
		sc := s.proc.Schema()
		if sc == nil {
			respondError(c, protocol.ErrNotLoaded)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"io":           sc.IO.String(),
			"inputs":       sc.NumInputs,
			"outputs":      sc.NumOutputs,
			"charge_width": sc.ChargeWidth,
			"limits":       sc.Limits,
			"describe":     sc.Describe(),
		})
	})

	s.router.POST("/load", func(c *gin.Context) {
		var req loadRequest
		if !bind(c, &req) {
			return
		}
		var err error
		switch {
		case len(req.Network) > 0:
			var net *network.Network
			net, err = network.Parse(req.Network)
			if err != nil {
				respondError(c, fmt.Errorf("%w: %w", protocol.ErrConfig, err))
				return
			}
			err = s.proc.LoadNetwork(c.Request.Context(), net)
		case req.Path != "":
			err = s.proc.LoadNetworkFile(c.Request.Context(), req.Path)
		default:
			respondError(c, fmt.Errorf("%w: load needs a network or a path", protocol.ErrConfig))
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session": s.proc.SessionID(), "state": s.proc.State().String()})
	})

	s.router.POST("/clear", func(c *gin.Context) {
		if err := s.proc.Clear(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "session": s.proc.SessionID()})
	})

	s.router.POST("/unload", func(c *gin.Context) {
		if err := s.proc.Unload(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.POST("/spikes", func(c *gin.Context) {
		var req spikesRequest
		if !bind(c, &req) {
			return
		}
		spikes := make([]spike.Spike, len(req.Spikes))
		for i, b := range req.Spikes {
			spikes[i] = spike.Spike{ID: b.ID, Time: b.Time, Value: b.Value}
		}
		if err := s.proc.ApplySpikes(spikes...); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "applied": len(spikes), "pending": s.proc.Pending()})
	})

	s.router.POST("/run", func(c *gin.Context) {
		var req runRequest
		if !bind(c, &req) {
			return
		}
		if err := s.proc.Run(c.Request.Context(), req.Duration); err != nil {
			respondError(c, err)
			return
		}
		s.respondOutputs(c)
	})

	s.router.GET("/outputs", s.respondOutputs)
}

func (s *Server) respondOutputs(c *gin.Context) {
	vectors, err := s.proc.OutputVectors()
	if err != nil {
		respondError(c, err)
		return
	}
	resp := outputsResponse{
		Session:   s.proc.SessionID(),
		Counts:    make([]int, len(vectors)),
		LastFires: make([]int, len(vectors)),
		Vectors:   vectors,
	}
	for i, v := range vectors {
		resp.Counts[i] = len(v)
		resp.LastFires[i] = -1
		if len(v) > 0 {
			resp.LastFires[i] = v[len(v)-1]
		}
	}
	resp.InputClock, _ = s.proc.Clocks()
	c.JSON(http.StatusOK, resp)
}

// bind decodes a JSON body; an empty body leaves v zero.
func bind(c *gin.Context, v any) bool {
	data, err := c.GetRawData()
	if err != nil {
		respondError(c, err)
		return false
	}
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": kind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNotLoaded), errors.Is(err, protocol.ErrDirty):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrUsage), errors.Is(err, protocol.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, protocol.ErrResource):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func kind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUsage):
		return "usage"
	case errors.Is(err, protocol.ErrConfig):
		return "config"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	case errors.Is(err, protocol.ErrResource):
		return "resource"
	default:
		return "internal"
	}
}
