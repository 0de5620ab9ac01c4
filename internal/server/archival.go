package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/homecare/internal/archival"
)

type archivalSweepRequest struct {
	RetentionMS *int64 `json:"retention_ms"`
}

// maxRetentionMS is the longest window that still fits in a time.Duration.
const maxRetentionMS = math.MaxInt64 / int64(time.Millisecond)

// RunArchivalSweep runs one pass on demand; retention defaults to the configured value.

func (s *Server) RunArchivalSweep(c *gin.Context) {
	var req archivalSweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	retention := s.sweeper.DefaultRetention()
	if req.RetentionMS != nil {
		if *req.RetentionMS <= 0 || *req.RetentionMS > maxRetentionMS {
			AbortWithError(c, archival.ErrInvalidRetention)
			return
		}
		retention = time.Duration(*req.RetentionMS) * time.Millisecond
	}

	result, err := s.sweeper.Sweep(c.Request.Context(), retention)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
