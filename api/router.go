package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vexxhost/invsentry/core"
)

// jobResponse renders core.Job over the wire with Status as its string name
// rather than the bare int JobState, since core.Job carries no JSON tags of
// its own (it is an in-memory type, not a wire type).
type jobResponse struct {
	JobID         string    `json:"job_id"`
	Scope         string    `json:"scope"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	HostsStatus   map[string]hostStatusResponse `json:"hosts_status,omitempty"`
	Progress      core.Progress                 `json:"progress"`
}

type hostStatusResponse struct {
	State     string `json:"state"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

func toJobResponse(job *core.Job) jobResponse {
	hosts := make(map[string]hostStatusResponse, len(job.HostsStatus))
	for host, status := range job.HostsStatus {
		hosts[host] = hostStatusResponse{
			State:     status.State.String(),
			Attempt:   status.Attempt,
			LastError: status.LastError,
		}
	}
	return jobResponse{
		JobID:       job.JobID,
		Scope:       job.ScopeKey.String(),
		Status:      job.Status.String(),
		Message:     job.Message,
		HostsStatus: hosts,
		Progress:    job.Progress,
	}
}

// Router wires Facade's four operations to a gin.Engine, annotated for
// swaggo the way the teacher's api/server.go annotates its own handlers.
type Router struct {
	facade Facade
	engine *gin.Engine
}

// NewRouter builds the HTTP surface over facade. debug toggles gin's debug
// vs. release mode, mirroring the teacher's -debug flag.
func NewRouter(facade Facade, debug bool) *Router {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := &Router{facade: facade, engine: gin.New()}
	r.engine.Use(gin.Logger(), gin.Recovery())
	r.routes()
	return r
}

// Engine returns the underlying gin.Engine, e.g. for http.Server.Handler.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) routes() {
	r.engine.GET("/swagger/*any", httpSwagger.WrapHandler)

	v1 := r.engine.Group("/api/v1/:provider")
	v1.POST("/refresh", r.triggerRefresh)
	v1.GET("/jobs/:job_id", r.getJob)
	v1.GET("/snapshot", r.getSnapshot)

	r.engine.POST("/shutdown", r.shutdown)
}

type refreshRequest struct {
	Hosts []string `json:"hosts"`
	Force bool     `json:"force"`
}

// triggerRefresh godoc
// @Summary      Trigger an inventory refresh
// @Description  Enqueues or returns the in-flight/cooldown job for a scope key
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        provider  path      string           true  "provider name"
// @Param        body      body      refreshRequest   false "hosts + force"
// @Success      202       {object}  jobResponse
// @Failure      404       {object}  map[string]string
// @Router       /api/v1/{provider}/refresh [post]
func (r *Router) triggerRefresh(c *gin.Context) {
	provider := c.Param("provider")

	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job, err := r.facade.TriggerRefresh(c.Request.Context(), provider, req.Hosts, req.Force)
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

// getJob godoc
// @Summary      Fetch a job by ID
// @Tags         inventory
// @Produce      json
// @Param        provider  path      string  true  "provider name"
// @Param        job_id    path      string  true  "job ID"
// @Success      200       {object}  jobResponse
// @Failure      404       {object}  map[string]string
// @Router       /api/v1/{provider}/jobs/{job_id} [get]
func (r *Router) getJob(c *gin.Context) {
	provider := c.Param("provider")
	jobID := c.Param("job_id")

	job, found, err := r.facade.GetJob(provider, jobID)
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// getSnapshot godoc
// @Summary      Fetch the latest snapshot for a scope key
// @Tags         inventory
// @Produce      json
// @Param        provider  path      string    true  "provider name"
// @Param        hosts     query     []string  false "host filter, repeatable"
// @Success      200       {object}  core.SnapshotPayload
// @Failure      404       {object}  map[string]string
// @Router       /api/v1/{provider}/snapshot [get]
func (r *Router) getSnapshot(c *gin.Context) {
	provider := c.Param("provider")
	hosts := c.QueryArray("hosts")

	snap, found, err := r.facade.GetSnapshot(c.Request.Context(), provider, hosts)
	if err != nil {
		writeFacadeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for scope"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// shutdown godoc
// @Summary      Stop every provider's scheduler and warmup loop
// @Tags         admin
// @Success      200  {object}  map[string]string
// @Router       /shutdown [post]
func (r *Router) shutdown(c *gin.Context) {
	if err := r.facade.Shutdown(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func writeFacadeError(c *gin.Context, err error) {
	if err == ErrUnknownProvider {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, core.ErrProviderNotReady) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
