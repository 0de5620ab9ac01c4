package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriberdomain "github.com/smallbiznis/homecare/internal/subscriber/domain"
)

type createSubscriberRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PlanTier string `json:"plan_tier"`
}

func (s *Server) CreateSubscriber(c *gin.Context) {
	var req createSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriberSvc.Create(c.Request.Context(), subscriberdomain.CreateSubscriberRequest{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		PlanTier: strings.TrimSpace(req.PlanTier),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscriber(c *gin.Context) {
	resp, err := s.subscriberSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscriberQuota(c *gin.Context) {
	resp, err := s.quotaSvc.GetQuota(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
