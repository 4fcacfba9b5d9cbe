package routes

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"ip-tracker/config"
	"ip-tracker/controllers"
	"ip-tracker/middlewares"
)

type Store interface {
	middlewares.BlockChecker
	middlewares.LogWriter
	controllers.ClassificationLister
}

// InterceptorStages is the production order: extract IP, block check,
// geolocate, log. Forwarding happens after the last stage.
func InterceptorStages(cfg config.Config, store Store, resolver middlewares.Geolocator, logger *log.Logger) []middlewares.Stage {
	return []middlewares.Stage{
		middlewares.ExtractIP(cfg.TrustForwardedFor, logger),
		middlewares.BlockCheck(store, cfg.StoreTimeout),
		middlewares.Geolocate(resolver, cfg.Geolocation.Timeout),
		middlewares.LogRequest(store, cfg.StoreTimeout),
	}
}

// SetupRoutes builds the application router and wraps it in the interceptor.
// The interceptor sits outside mux so unmatched paths are blocked and logged too.
func SetupRoutes(cfg config.Config, store Store, resolver middlewares.Geolocator, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	router := mux.NewRouter()

	// Public Routes
	router.HandleFunc("/", controllers.Home()).Methods("GET")

	// Admin Routes
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(middlewares.NewRateLimiter(cfg.AdminRateLimit, cfg.AdminRateBurst, cfg.TrustForwardedFor).Middleware)
	admin.HandleFunc("/suspicious-ips", controllers.ListSuspiciousIPs(store, logger)).Methods("GET")

	interceptor := middlewares.NewInterceptor(
		InterceptorStages(cfg, store, resolver, logger),
		middlewares.WithLogger(logger),
	)

	return middlewares.LoggingMiddleware(logger)(interceptor.Middleware(router))
}
