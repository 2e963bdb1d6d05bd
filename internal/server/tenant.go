package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
)

func (s *Server) CreateTenant(c *gin.Context) {
	var req tenantdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	respond(c, s.control.CreateTenant(c.Request.Context(), req))
}

func (s *Server) UpdateTenant(c *gin.Context) {
	var req tenantdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))
	respond(c, s.control.UpdateTenant(c.Request.Context(), req))
}

func (s *Server) GetTenant(c *gin.Context) {
	respond(c, s.control.GetTenant(c.Request.Context(), c.Param("id")))
}

func (s *Server) ListTenants(c *gin.Context) {
	respond(c, s.control.ListTenants(c.Request.Context()))
}

func (s *Server) TestConnection(c *gin.Context) {
	respond(c, s.control.TestConnection(c.Request.Context(), c.Param("id")))
}
