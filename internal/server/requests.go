package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
)

type createRequestRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Description  string `json:"description"`
	IsUrgent     bool   `json:"is_urgent"`
}

type completeRequestRequest struct {
	HoursConsumed *float64 `json:"hours_consumed"`
}

type replyRequestRequest struct {
	Text string `json:"text"`
}

func (s *Server) CreateRequest(c *gin.Context) {
	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requestSvc.Create(c.Request.Context(), requestdomain.CreateRequest{
		SubscriberID: strings.TrimSpace(req.SubscriberID),
		Description:  req.Description,
		IsUrgent:     req.IsUrgent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRequests(c *gin.Context) {
	var query requestdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requestSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Requests, "page_info": resp.PageInfo})
}

func (s *Server) GetRequest(c *gin.Context) {
	resp, err := s.requestSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ScheduleRequest(c *gin.Context) {
	resp, err := s.requestSvc.Schedule(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteRequest(c *gin.Context) {
	var req completeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.HoursConsumed == nil {
		AbortWithError(c, newValidationError("hours_consumed", "required", "hours_consumed is required"))
		return
	}

	resp, err := s.requestSvc.Complete(c.Request.Context(), strings.TrimSpace(c.Param("id")), *req.HoursConsumed)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelRequest(c *gin.Context) {
	resp, err := s.requestSvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReplyRequest(c *gin.Context) {
	var req replyRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requestSvc.Reply(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Text)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
