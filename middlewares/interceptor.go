package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"ip-tracker/geolocation"
	"ip-tracker/models"
	"ip-tracker/utils"
)

// Exchange carries what the stages learn about one request.
type Exchange struct {
	Request  *http.Request
	IP       string
	Location geolocation.Location
	Received time.Time
}

// Verdict is a response written instead of forwarding the request.
type Verdict struct {
	Status int
	Body   string
}

// Stage is one step of the interceptor. Returning a Verdict stops the
// pipeline and writes it; returning an error stops it with a 500.
type Stage func(ctx context.Context, ex *Exchange) (*Verdict, error)

type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

type LogWriter interface {
	CreateLog(ctx context.Context, entry *models.RequestLog) error
}

type Geolocator interface {
	Resolve(ctx context.Context, ip string) geolocation.Location
}

// Interceptor runs its stages in order in front of every route, then
// forwards the request untouched.
type Interceptor struct {
	stages []Stage
	logger *log.Logger
	now    func() time.Time
}

type InterceptorOption func(*Interceptor)

func WithLogger(logger *log.Logger) InterceptorOption {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithClock(now func() time.Time) InterceptorOption {
	return func(i *Interceptor) {
		i.now = now
	}
}

func NewInterceptor(stages []Stage, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		stages: stages,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Middleware matches mux.MiddlewareFunc.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := &Exchange{Request: r, Received: i.now().UTC()}

		for _, stage := range i.stages {
			verdict, err := stage(r.Context(), ex)
			if err != nil {
				i.logger.Error("Request interception failed", "ip", ex.IP, "path", r.URL.Path, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if verdict != nil {
				http.Error(w, verdict.Body, verdict.Status)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// ExtractIP resolves the client address and sanitizes it once, so the block
// check and the log row see the same string. Unparsable values are kept.
func ExtractIP(trustForwarded bool, logger *log.Logger) Stage {
	if logger == nil {
		logger = log.Default()
	}
	return func(_ context.Context, ex *Exchange) (*Verdict, error) {
		ex.IP = models.Sanitize(utils.ClientIP(ex.Request, trustForwarded), models.MaxIPLength)
		if err := utils.ValidateIP(ex.IP); err != nil {
			logger.Debug("Client address is not an IP", "error", err)
		}
		return nil, nil
	}
}

// BlockCheck rejects blocklisted addresses before anything is logged. A
// store failure fails closed.
func BlockCheck(store BlockChecker, timeout time.Duration) Stage {
	return func(ctx context.Context, ex *Exchange) (*Verdict, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		blocked, err := store.IsBlocked(ctx, ex.IP)
		if err != nil {
			return nil, err
		}
		if blocked {
			return &Verdict{Status: http.StatusForbidden, Body: "IP address is blocked"}, nil
		}
		return nil, nil
	}
}

// Geolocate never fails the request; a slow or broken resolver leaves the
// location empty.
func Geolocate(resolver Geolocator, timeout time.Duration) Stage {
	return func(ctx context.Context, ex *Exchange) (*Verdict, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		ex.Location = resolver.Resolve(ctx, ex.IP)
		return nil, nil
	}
}

// LogRequest appends the request log row. The write is detached from client
// cancellation so a dropped connection still leaves a record.
func LogRequest(store LogWriter, timeout time.Duration) Stage {
	return func(ctx context.Context, ex *Exchange) (*Verdict, error) {
		ctx, cancel := withTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		entry := models.NewRequestLog(ex.IP, ex.Request.URL.Path, ex.Received, ex.Location.Country, ex.Location.City)
		return nil, store.CreateLog(ctx, &entry)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
