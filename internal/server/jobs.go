package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/erpsync/internal/scheduler"
)

func (s *Server) AddJob(c *gin.Context) {
	var def scheduler.JobDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	respond(c, s.control.AddJob(c.Request.Context(), def))
}

func (s *Server) RemoveJob(c *gin.Context) {
	respond(c, s.control.RemoveJob(c.Request.Context(), c.Param("jobId")))
}

func (s *Server) PauseJob(c *gin.Context) {
	respond(c, s.control.PauseJob(c.Request.Context(), c.Param("jobId")))
}

func (s *Server) ResumeJob(c *gin.Context) {
	respond(c, s.control.ResumeJob(c.Request.Context(), c.Param("jobId")))
}

func (s *Server) RunNowJob(c *gin.Context) {
	respond(c, s.control.RunNowJob(c.Request.Context(), c.Param("jobId")))
}

func (s *Server) ListJobs(c *gin.Context) {
	respond(c, s.control.ListJobs(c.Request.Context()))
}

func (s *Server) StartScheduler(c *gin.Context) {
	respond(c, s.control.StartScheduler(c.Request.Context()))
}

func (s *Server) StopScheduler(c *gin.Context) {
	respond(c, s.control.StopScheduler(c.Request.Context()))
}
