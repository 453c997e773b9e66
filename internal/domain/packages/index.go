// Package packages installs the Python packages a kernel reported missing.
//
// Module names are mapped to distribution names, checked against the
// package index and then installed with the session's package manager
// running under a pty.
package packages

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// DefaultIndexURL is the PyPI JSON API.
const DefaultIndexURL = "https://pypi.org/pypi"

// Release is the index entry of a distribution.
type Release struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Summary string `json:"summary"`
}

type indexResponse struct {
	Info Release `json:"info"`
}

// IndexConfig configures an Index client.
type IndexConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryMax   int
	RetryWait  time.Duration
	RatePerSec float64
	Logger     *zap.Logger
}

// Index is a client for the package index JSON API. Requests are retried,
// rate limited and guarded by a circuit breaker.
type Index struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewIndex creates an index client.
func NewIndex(cfg IndexConfig) *Index {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultIndexURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = 4 * cfg.RetryWait
	retryClient.Logger = leveled{log.Sugar()}
	// A non-2xx answer is returned to resty instead of becoming an error.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "notebookd").
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetJSONMarshaler(sonic.Marshal)

	limit := rate.Inf
	burst := 0
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = int(cfg.RatePerSec) + 1
	}

	return &Index{
		resty:   client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.New("package-index", resilience.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, protocol.ErrNotFound)
			},
		}),
	}
}

// Lookup returns the latest release of a distribution. An unknown
// distribution is a NotFoundError.
func (i *Index) Lookup(ctx context.Context, distribution string) (Release, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return Release{}, err
	}
	return resilience.Call(i.breaker, func() (Release, error) {
		var out indexResponse
		resp, err := i.resty.R().
			SetContext(ctx).
			SetPathParam("name", distribution).
			SetResult(&out).
			Get("/{name}/json")
		if err != nil {
			return Release{}, protocol.BackendExecution(err, "package index")
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return Release{}, protocol.NotFoundf("package %q not found", distribution)
		case resp.IsError():
			return Release{}, protocol.BackendExecution(nil, "package index returned %s", resp.Status())
		}
		return out.Info, nil
	})
}

// leveled adapts zap to retryablehttp's LeveledLogger.
type leveled struct {
	*zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.Warnw(msg, kv...) }

// moduleDistributions maps import names to the distribution that provides them.
var moduleDistributions = map[string]string{
	"PIL":      "pillow",
	"bs4":      "beautifulsoup4",
	"cv2":      "opencv-python",
	"dateutil": "python-dateutil",
	"dotenv":   "python-dotenv",
	"google":   "protobuf",
	"jwt":      "pyjwt",
	"magic":    "python-magic",
	"sklearn":  "scikit-learn",
	"skimage":  "scikit-image",
	"yaml":     "pyyaml",
	"attr":     "attrs",
	"serial":   "pyserial",
	"Crypto":   "pycryptodome",
	"OpenSSL":  "pyopenssl",
	"docx":     "python-docx",
	"pptx":     "python-pptx",
}

// Distribution returns the distribution name that provides module.
func Distribution(module string) string {
	root, _, _ := strings.Cut(module, ".")
	if d, ok := moduleDistributions[root]; ok {
		return d
	}
	return strings.ReplaceAll(root, "_", "-")
}
