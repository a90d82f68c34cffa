package api

import (
	"net/http"

	"github.com/Domenick1991/venuebooking/internal/service/moderation"
	"github.com/gin-gonic/gin"
)

type ModerationHandler struct {
	service moderation.WorkflowUseCase
}

func NewModerationHandler(service moderation.WorkflowUseCase) *ModerationHandler {
	return &ModerationHandler{service: service}
}

func (h *ModerationHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.submit)
	router.GET("", h.listPending)
	router.GET("/:id", h.get)
	router.POST("/:id/approve", h.approve)
	router.DELETE("/:id", h.withdraw)
}

// submit answers 202 when the change was staged for review and 200 when it
// was merged right away.
func (h *ModerationHandler) submit(c *gin.Context) {
	var input moderation.SubmitInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.service.Submit(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusAccepted
	if res.Merge != nil {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *ModerationHandler) listPending(c *gin.Context) {
	list, err := h.service.ListPending(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ModerationHandler) get(c *gin.Context) {
	cr, err := h.service.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

func (h *ModerationHandler) approve(c *gin.Context) {
	res, err := h.service.Approve(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ModerationHandler) withdraw(c *gin.Context) {
	if err := h.service.Withdraw(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
