package api

import (
	"context"
	"net/http"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/service/booking"
	"github.com/gin-gonic/gin"
)

// Settler drives a booking to its final payment status.
type Settler interface {
	Settle(ctx context.Context, bookingID string) (*domain.Booking, error)
}

type BookingHandler struct {
	service booking.BookingUseCase
	settler Settler
}

func NewBookingHandler(service booking.BookingUseCase, settler Settler) *BookingHandler {
	return &BookingHandler{service: service, settler: settler}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.listMine)
	router.GET("/:id", h.get)
	router.POST("/:id/settle", h.settle)
	router.POST("/:id/abort", h.abort)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/reject", h.reject)
	router.POST("/:id/tickets", h.backfill)
}

func (h *BookingHandler) create(c *gin.Context) {
	var input booking.CreateBookingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	b, err := h.service.CreateBooking(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *BookingHandler) listMine(c *gin.Context) {
	list, err := h.service.ListByOwner(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, ok := h.visible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b)
}

// settle blocks while the gateway result is polled.
func (h *BookingHandler) settle(c *gin.Context) {
	if _, ok := h.visible(c); !ok {
		return
	}
	b, err := h.settler.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) abort(c *gin.Context) {
	h.respond(c, h.service.Abort)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	h.respond(c, h.service.Cancel)
}

func (h *BookingHandler) reject(c *gin.Context) {
	h.respond(c, h.service.Reject)
}

func (h *BookingHandler) backfill(c *gin.Context) {
	if !actorFrom(c).Privileged() {
		writeError(c, domain.ErrNotPrivileged)
		return
	}
	b, err := h.service.BackfillTickets(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) respond(c *gin.Context, op func(context.Context, domain.Actor, string) (*domain.Booking, error)) {
	b, err := op(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// visible loads the booking in the path if the caller owns it or is an
// admin, writing the error response otherwise.
func (h *BookingHandler) visible(c *gin.Context) (*domain.Booking, bool) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	actor := actorFrom(c)
	if b.OwnerID != actor.ID && !actor.Privileged() {
		writeError(c, domain.ErrNotBookingOwner)
		return nil, false
	}
	return b, true
}
