package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Support is the contact block attached to fatal and payment errors.
type Support struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Support *Support    `json:"support,omitempty"`
	// Redirect is where the client should send the viewer instead.
	Redirect string `json:"redirect,omitempty"`
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

// Validation sends 422 with the failing field as code. Used for inline form errors.
func Validation(c *gin.Context, field, err string) {
	c.JSON(http.StatusUnprocessableEntity, Body{Success: false, Error: err, Code: field})
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

// NotFoundRedirect sends 404 carrying the page the client should move to.
func NotFoundRedirect(c *gin.Context, err, redirect string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, Redirect: redirect})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// PaymentFailed sends 402 with the provider code and the support contact.
func PaymentFailed(c *gin.Context, err, code string, support Support) {
	c.JSON(http.StatusPaymentRequired, Body{Success: false, Error: err, Code: code, Support: &support})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// InternalWithSupport sends 500 with the support contact attached.
func InternalWithSupport(c *gin.Context, err string, support Support) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Support: &support})
}

// Fatal sends 500 with the support contact and a link back home.
func Fatal(c *gin.Context, err string, support Support, home string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Support: &support, Redirect: home})
}
