package http

import (
	"errors"
	"mime"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/dispatch"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/utils"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	dispatch  *dispatch.Dispatcher
	metrics   *monitoring.Metrics
	validator *utils.JSONSizeValidator
	values    *utils.JSONSizeValidator
	log       *zap.Logger
	version   string
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(d *dispatch.Dispatcher, metrics *monitoring.Metrics, log *zap.Logger, version string) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		dispatch:  d,
		metrics:   metrics,
		validator: utils.DefaultJSONValidator(),
		values:    utils.NewJSONSizeValidator(utils.MaxValueSize),
		log:       log,
		version:   version,
	}
}

// sessionID reads the session header; the dispatcher rejects an empty id.
func sessionID(c *gin.Context) id.SessionID {
	return id.SessionID(c.GetHeader(protocol.SessionHeader))
}

func readBody(c *gin.Context) ([]byte, error) {
	data, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, protocol.Protocolf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, protocol.Protocolf("read request body: %v", err)
	}
	return data, nil
}

// bind decodes the JSON body into dst. An empty body leaves dst at its zero
// value when optional is set.
func (h *Handlers) bind(c *gin.Context, dst any, optional bool) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		if optional {
			return nil
		}
		return protocol.Protocolf("request body is required")
	}
	if err := h.validator.ValidateSize(data); err != nil {
		return protocol.Protocolf("%v", err)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return protocol.Protocolf("invalid request body: %v", err)
	}
	return nil
}

// bindValues decodes bodies carrying arbitrary UI values, bounding their
// size and nesting depth first.
func (h *Handlers) bindValues(c *gin.Context, dst any) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return protocol.Protocolf("request body is required")
	}
	if err := h.values.ValidateJSON(data, utils.MaxJSONDepth); err != nil {
		return protocol.Protocolf("%v", err)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return protocol.Protocolf("invalid request body: %v", err)
	}
	return nil
}

// fail writes err as an error body with the status of its kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	pe := protocol.AsError(err)
	_ = c.Error(err)
	if pe.Kind == protocol.KindBackendExecution {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(pe.Status(), pe.Body())
}

// ack acknowledges a fire-and-forget call; results arrive on the push channel.
func (h *Handlers) ack(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nil)
}

func (h *Handlers) reply(c *gin.Context, v any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) download(c *gin.Context, out dispatch.Download, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	if out.Attachment {
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
	}
	c.Data(http.StatusOK, out.ContentType, out.Body)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "notebookd",
		"version": h.version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"sessions": len(h.dispatch.Sessions().Running()),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}
