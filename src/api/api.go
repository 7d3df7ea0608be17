package api

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bbernhard/repairiq/src/commons"
	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/bbernhard/repairiq/src/predict"
	"github.com/bbernhard/repairiq/src/relay"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

const maxUploadSize = 10 << 20

//go:embed phone.html
var phonePage []byte

type Classifier interface {
	Classify(ctx context.Context, image []byte) (datastructures.PredictionResult, error)
	Ready() bool
}

type Server struct {
	config     commons.Config
	classifier Classifier
	relay      *relay.Relay
	pairing    *relay.Pairing
	started    time.Time
}

func NewServer(config commons.Config, classifier Classifier, r *relay.Relay, pairing *relay.Pairing) *Server {
	return &Server{
		config:     config,
		classifier: classifier,
		relay:      r,
		pairing:    pairing,
		started:    time.Now(),
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors(s.config.CorsOrigin))

	for _, path := range []string{"/predict", "/health", "/phone-camera"} {
		router.OPTIONS(path, func(c *gin.Context) {
			c.JSON(http.StatusOK, struct{}{})
		})
	}

	router.POST("/predict", s.predict)
	router.GET("/health", s.health)
	router.GET("/phone-camera", s.phoneCamera)
	router.GET(relay.PhonePagePath, func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", phonePage)
	})
	router.GET("/ws", func(c *gin.Context) {
		s.relay.ServeWS(c.Writer, c.Request)
	})
	return router
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-File-Name, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("[Api] Request handled")
	}
}

func (s *Server) predict(c *gin.Context) {
	if c.Request.ContentLength > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, datastructures.ErrorResult{Error: "Image too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, datastructures.ErrorResult{Error: "Image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, datastructures.ErrorResult{Error: "No image file uploaded"})
		return
	}

	if !s.classifier.Ready() {
		s.unavailable(c)
		return
	}

	file, err := header.Open()
	if err != nil {
		s.internalError(c, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.internalError(c, err)
		return
	}
	log.Debug("[Predicting] Received file: ", header.Filename, ", size: ", header.Size, " bytes")

	// the sniffed type is what gets decoded, the declared one is only a hint
	declared := header.Header.Get("Content-Type")
	if sniffed := mimetype.Detect(data); declared != "" && declared != "application/octet-stream" && !sniffed.Is(declared) {
		log.Debug("[Predicting] Declared content type ", declared, " doesn't match detected ", sniffed.String())
	}

	res, err := s.classifier.Classify(c.Request.Context(), data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, predict.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, datastructures.ErrorResult{
			Error:    "Server busy",
			Fallback: "Please try again in a moment",
		})
	case errors.Is(err, predict.ErrServiceUnavailable):
		s.unavailable(c)
	case errors.Is(err, predict.ErrInvalidInput):
		log.Debug("[Predicting] Rejected upload: ", err.Error())
		c.JSON(http.StatusBadRequest, datastructures.ErrorResult{
			Error:   "Invalid image format",
			Details: "The uploaded file is not a valid image or is unsupported.",
		})
	default:
		s.internalError(c, err)
	}
}

func (s *Server) unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, datastructures.ErrorResult{
		Error:    "Model not loaded yet",
		Fallback: "Please try again later or contact support",
	})
}

// internalError logs the full error but only exposes details and stack
// traces in development.
func (s *Server) internalError(c *gin.Context, err error) {
	log.WithError(err).Error("[Predicting] Prediction error")
	commons.ReportError(err, map[string]string{"endpoint": c.FullPath()})

	res := datastructures.ErrorResult{
		Error:   "Internal server error",
		Details: "Prediction could not be completed",
	}
	if s.config.IsDevelopment() {
		res.Details = err.Error()
		var internal *predict.InternalError
		if errors.As(err, &internal) {
			res.Stack = internal.Stack
		}
	}
	c.JSON(http.StatusInternalServerError, res)
}

func (s *Server) health(c *gin.Context) {
	res := datastructures.HealthResult{
		Status:      "ok",
		ModelLoaded: s.classifier.Ready(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: s.config.Environment,
		Uptime:      time.Since(s.started).Seconds(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			res.MemoryRSS = mem.RSS
		}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) phoneCamera(c *gin.Context) {
	res, err := s.pairing.Issue(c.Request.Context(), s.baseUrl(c.Request))
	if err != nil {
		log.WithError(err).Error("[Pairing] Couldn't create phone link")
		commons.ReportError(err, map[string]string{"endpoint": c.FullPath()})
		c.JSON(http.StatusInternalServerError, datastructures.ErrorResult{Error: "Couldn't create phone link - please try again later"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) baseUrl(r *http.Request) string {
	if s.config.PublicUrl != "" {
		return s.config.PublicUrl
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
