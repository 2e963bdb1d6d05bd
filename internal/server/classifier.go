package server

import (
	"github.com/gin-gonic/gin"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
)

func (s *Server) SaveRule(c *gin.Context) {
	var req classifierdomain.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	tid, err := tenantdomain.ParseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid tenant id")
		return
	}
	req.TenantID = tid
	respond(c, s.control.SaveRule(c.Request.Context(), req))
}

func (s *Server) ListRules(c *gin.Context) {
	respond(c, s.control.ListRules(c.Request.Context(), c.Param("id")))
}

func (s *Server) DeleteRule(c *gin.Context) {
	respond(c, s.control.DeleteRule(c.Request.Context(), c.Param("id"), c.Param("ruleId")))
}

func (s *Server) TestRules(c *gin.Context) {
	var req struct {
		Lines []classifierdomain.Line `json:"lines"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	respond(c, s.control.TestRules(c.Request.Context(), c.Param("id"), req.Lines))
}

func (s *Server) ReclassifyRecent(c *gin.Context) {
	var req struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	respond(c, s.control.ReclassifyRecent(c.Request.Context(), c.Param("id"), req.Days))
}
