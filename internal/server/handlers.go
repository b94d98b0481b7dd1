package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) runPF(c *gin.Context) {
	log := logrus.WithField("request_id", c.GetString(requestIDKey))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var req powerflow.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.SolveTimeout)
	defer cancel()

	resp, err := s.solve(ctx, &req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)

	case powerflow.IsInputError(err):
		log.WithError(err).Info("rejected power flow request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Warn("power flow timed out")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "solve timed out after " + s.cfg.SolveTimeout.String()})

	default:
		log.WithError(err).Error("power flow failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
