package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/erpsync/internal/control"
)

func (s *Server) RunSync(c *gin.Context) {
	var req control.RunSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	respond(c, s.control.RunSync(c.Request.Context(), req))
}

func (s *Server) ListExecutions(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}
	respond(c, s.control.ListExecutions(c.Request.Context(), c.Param("id"), limit))
}
