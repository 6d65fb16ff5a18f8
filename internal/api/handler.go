// Package api is the thin HTTP surface over the orchestration service.
// Routing and binding only; all business decisions live in the service.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/panelworks/cutflow/common"
	"github.com/panelworks/cutflow/internal/dto"
	"github.com/panelworks/cutflow/internal/orchestrator"
	"github.com/panelworks/cutflow/middleware"
)

type Handler struct {
	service *orchestrator.Service
}

func NewHandler(service *orchestrator.Service) *Handler {
	return &Handler{service: service}
}

// Register wires the routes onto a router group.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/jobs", h.Create)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.Get)
	r.POST("/jobs/:id/retry", h.Retry)
	r.POST("/jobs/:id/approve", h.Approve)
	r.GET("/customers/lookup", h.LookupCustomer)
}

func (h *Handler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	status := http.StatusCreated
	if resp.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (h *Handler) Get(c *gin.Context) {
	detail, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) List(c *gin.Context) {
	// The store clamps whatever arrives; an unparseable limit just means
	// "use the default".
	limit, err := strconv.ParseFloat(c.DefaultQuery("limit", "100"), 64)
	if err != nil {
		limit = 100
	}

	jobs, lerr := h.service.ListJobs(c.Request.Context(), limit)
	if lerr != nil {
		c.Error(lerr)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) Retry(c *gin.Context) {
	resp, err := h.service.RetryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Approve(c *gin.Context) {
	resp, err := h.service.ApproveHold(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) LookupCustomer(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "phone parameter is required"})
		return
	}

	resp, err := h.service.LookupCustomer(c.Request.Context(), phone)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
