package router

import (
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"rtlab/internal/config"
	"rtlab/internal/cue"
	"rtlab/internal/engine"
	"rtlab/internal/handlers"
)

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}
func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(429, "Too many requests. Try again later.")
}

// Setup builds the gin engine with the full route surface.
func Setup(log *zap.Logger, manager *engine.Manager, store engine.Store, actuator cue.Actuator,
	cleaningFor engine.CleaningFactory) *gin.Engine {
	// Set up a new Gin router, add recovery middleware and request logging.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	cookieStore := cookie.NewStore([]byte(config.Conf.Server.SessionSecret))
	cookieStore.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 7,
	})
	router.Use(sessions.Sessions("rtlab_subject", cookieStore))

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	router.Use(func(c *gin.Context) {
		err := secureMiddleware.Process(c.Writer, c.Request)
		if err != nil {
			c.Abort()
			return
		}
	})

	// Handlers and routes
	sessionsHandler := handlers.NewSessionsHandler(log, manager, store)
	streamHandler := handlers.NewStreamHandler(log, manager, actuator)
	cleaningHandler := handlers.NewCleaningHandler(log, manager, store, cleaningFor)
	reliabilityHandler := handlers.NewReliabilityHandler(log, store)
	resultsHandler := handlers.NewResultsHandler(log, store)

	// Session creation is the only expensive entry point; everything
	// else is scoped to an already-created session.
	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: 10,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})

	api := router.Group("/api")
	{
		sessionRoutes := api.Group("/sessions")
		{
			sessionRoutes.POST("", limiter, sessionsHandler.Create)
			sessionRoutes.POST("/:id/advance", sessionsHandler.Advance)
			sessionRoutes.POST("/:id/abort", sessionsHandler.Abort)
			sessionRoutes.GET("/:id/stream", streamHandler.Attach)
			sessionRoutes.GET("/:id/trials", sessionsHandler.ListTrials)
			sessionRoutes.GET("/:id/summary", sessionsHandler.Summary)
			sessionRoutes.POST("/:id/clean", cleaningHandler.Clean)
		}
		api.POST("/reliability", reliabilityHandler.Analyze)
	}

	router.GET("/sessions/:id/results", resultsHandler.ShowResults)
	router.GET("/sessions/:id/agreement/:other", resultsHandler.ShowAgreement)

	return router
}
