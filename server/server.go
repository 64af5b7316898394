// Package server exposes the engine over HTTP: flow registration,
// synchronous and asynchronous execution, and execution lifecycle control.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowforge/flowforge/engine"
	"github.com/flowforge/flowforge/flow"
	"github.com/flowforge/flowforge/loader"
)

// ResultStore reads back finished execution results for the status endpoint.
// Both the in-memory and the postgres backends satisfy it.
type ResultStore interface {
	Result(ctx context.Context, executionID string) (*flow.Result, error)
}

// Server wires the engine and result store behind a gin router.
type Server struct {
	eng   *engine.Engine
	store ResultStore
	log   *slog.Logger
}

// New creates a Server. The store may be nil when result history is not
// exposed.
func New(eng *engine.Engine, st ResultStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{eng: eng, store: st, log: log}
}

// Routes registers all endpoints on the router.
func (s *Server) Routes(g *gin.Engine) {
	g.GET("/healthz", s.health)

	g.POST("/flows", s.registerFlow)
	g.GET("/flows", s.listFlows)
	g.GET("/flows/:id", s.getFlow)
	g.DELETE("/flows/:id", s.unregisterFlow)

	g.POST("/flows/:id/execute", s.execute)
	g.POST("/flows/:id/execute-async", s.executeAsync)

	g.GET("/executions/:id", s.executionStatus)
	g.POST("/executions/:id/pause", s.pause)
	g.POST("/executions/:id/resume", s.resume)
	g.POST("/executions/:id/stop", s.stop)
}

func (s *Server) health(c *gin.Context) {
	if !s.eng.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"registeredFlows":  s.eng.RegisteredFlowCount(),
		"activeExecutions": s.eng.ActiveExecutionCount(),
	})
}

// registerFlow accepts a YAML flow document, validates it, and registers it.
func (s *Server) registerFlow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "cannot read request body"})
		return
	}

	def, err := loader.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	id, err := s.eng.Register(def)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"flowId": id})
}

func (s *Server) listFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.eng.RegisteredFlowCount()})
}

func (s *Server) getFlow(c *gin.Context) {
	def, ok := s.eng.Flow(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "flow not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) unregisterFlow(c *gin.Context) {
	if !s.eng.Unregister(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"message": "flow not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// execute runs a flow synchronously and returns the full result.
func (s *Server) execute(c *gin.Context) {
	flowID := c.Param("id")
	input, ok := s.readInput(c)
	if !ok {
		return
	}

	result, err := s.eng.Execute(c.Request.Context(), flowID, input)
	if err != nil {
		s.executionError(c, flowID, err)
		return
	}
	c.JSON(statusCode(result), result)
}

// executeAsync submits a flow to the worker pool and returns the execution
// ID immediately.
func (s *Server) executeAsync(c *gin.Context) {
	flowID := c.Param("id")
	input, ok := s.readInput(c)
	if !ok {
		return
	}

	future, err := s.eng.ExecuteAsync(c.Request.Context(), flowID, input)
	if err != nil {
		s.executionError(c, flowID, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"executionId": future.ExecutionID()})
}

func (s *Server) executionStatus(c *gin.Context) {
	id := c.Param("id")
	status := s.eng.Status(id)
	if status != engine.StatusNotFound {
		c.JSON(http.StatusOK, gin.H{"executionId": id, "status": status})
		return
	}

	// Not active; it may have completed and landed in the store.
	if s.store != nil {
		result, err := s.store.Result(c.Request.Context(), id)
		if err != nil {
			s.log.Error("result lookup failed", "execution", id, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"message": "cannot read execution result"})
			return
		}
		if result != nil {
			c.JSON(http.StatusOK, gin.H{
				"executionId": id,
				"status":      engine.ResultStatus(result.Status),
				"result":      result,
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"executionId": id, "status": engine.StatusNotFound})
}

func (s *Server) pause(c *gin.Context) {
	s.control(c, s.eng.Pause, "paused")
}

func (s *Server) resume(c *gin.Context) {
	s.control(c, s.eng.Resume, "resumed")
}

func (s *Server) stop(c *gin.Context) {
	s.control(c, s.eng.Stop, "stopping")
}

func (s *Server) control(c *gin.Context, op func(string) bool, state string) {
	id := c.Param("id")
	if !op(id) {
		c.JSON(http.StatusNotFound, gin.H{"message": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executionId": id, "status": state})
}

// readInput parses the optional JSON body into the execution input.
func (s *Server) readInput(c *gin.Context) (map[string]any, bool) {
	input := map[string]any{}
	if c.Request.ContentLength == 0 {
		return input, true
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "wrong request body format"})
		return nil, false
	}
	return input, true
}

func (s *Server) executionError(c *gin.Context, flowID string, err error) {
	s.log.Error("flow execution failed", "flow", flowID, "error", err.Error())
	code := http.StatusInternalServerError
	if flow.IsKind(err, flow.KindDefinition) {
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"message": err.Error()})
}

// statusCode maps an execution outcome onto an HTTP status.
func statusCode(result *flow.Result) int {
	switch result.Status {
	case flow.StatusSuccess, flow.StatusPartial:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
