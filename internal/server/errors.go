package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/erpsync/internal/control"
)

// respond renders the control envelope as-is; the HTTP status is derived
// from the error kind so plain HTTP clients get sensible codes too.
func respond(c *gin.Context, res control.Result) {
	c.JSON(statusFor(res), res)
}

func statusFor(res control.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Error.Kind {
	case control.KindInvalidRequest:
		return http.StatusBadRequest
	case control.KindNotFound:
		return http.StatusNotFound
	case control.KindConflict:
		return http.StatusConflict
	case "auth", "transport", "protocol":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	respond(c, control.Result{Error: &control.Error{
		Kind:    control.KindInvalidRequest,
		Message: msg,
	}})
}
