package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Dropped interface{} `json:"dropped,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error maps a memory error to its status code. Dropped writes answer 503 and echo the
// rejected payload so the sender can replay it.
func Error(c *gin.Context, err error) {
	if d, ok := memerr.AsDropped(err); ok {
		c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err.Error(), Kind: "dropped", Dropped: d.Payload})
		return
	}
	status := http.StatusInternalServerError
	kind := memerr.KindOf(err)
	switch {
	case errors.Is(kind, memerr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(kind, memerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(kind, memerr.ErrConflict), errors.Is(kind, memerr.ErrInvalidState), errors.Is(kind, memerr.ErrNoActiveSession):
		status = http.StatusConflict
	case errors.Is(kind, memerr.ErrStore):
		status = http.StatusServiceUnavailable
	}
	body := Body{Success: false, Error: err.Error()}
	if kind != nil {
		body.Kind = kind.Error()
	}
	c.JSON(status, body)
}
