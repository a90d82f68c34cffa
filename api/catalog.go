package api

import (
	"net/http"

	"github.com/Domenick1991/venuebooking/internal/service/catalog"
	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	service catalog.CatalogUseCase
}

func NewCatalogHandler(service catalog.CatalogUseCase) *CatalogHandler {
	return &CatalogHandler{service: service}
}

func (h *CatalogHandler) Register(router *gin.RouterGroup) {
	router.GET("/venues/:id", h.venue)
	router.GET("/events/:id", h.event)
	router.GET("/categories/:id", h.category)
	router.GET("/occurrences/:id/availability", h.availability)
}

func (h *CatalogHandler) venue(c *gin.Context) {
	v, err := h.service.Venue(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *CatalogHandler) event(c *gin.Context) {
	e, err := h.service.Event(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *CatalogHandler) category(c *gin.Context) {
	cat, err := h.service.Category(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *CatalogHandler) availability(c *gin.Context) {
	list, err := h.service.Availability(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
