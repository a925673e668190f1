package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainmail/internal/domain"
	"chainmail/internal/logger"
	"chainmail/internal/protocol/wire"
)

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

const (
	cborType        = "application/cbor"
	maxFrameBody    = 1 << 20
	maxPackageBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Ledger is the log the relay fronts.
type Ledger interface {
	domain.Transport
	domain.Clock
}

type Server struct {
	engine *gin.Engine
	ledger Ledger
	ids    domain.IdentityDirectory
	pkgs   domain.PackageDirectory
	log    *logger.Logger
}

type publishRequest struct {
	Frame string `json:"frame" binding:"required"`
}

type publishResponse struct {
	Ref domain.Ref `json:"ref"`
}

type registerRequest struct {
	PublicKey []byte `json:"public_key" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewServer(mode string, l Ledger, ids domain.IdentityDirectory, pkgs domain.PackageDirectory, log *logger.Logger) *Server {
	switch mode {
	case ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	if log == nil {
		log = logger.Nop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, ledger: l, ids: ids, pkgs: pkgs, log: log.Named("relay")}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(requestID())
	s.engine.Use(accessLog(s.log))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/frames", s.publish)
		v1.GET("/frames", s.poll)
		v1.GET("/frames/:ref/confirmations", s.confirmations)
		v1.GET("/frames/:ref/timestamp", s.timestamp)

		v1.PUT("/identities/:addr", s.register)
		v1.GET("/identities/:addr", s.identity)

		v1.PUT("/packages/:addr", s.publishPackage)
		v1.GET("/packages/:addr", s.fetchPackage)
	}
}

// Handler returns the HTTP handler serving the relay routes.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("relay listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("shutting down relay")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Errorf("relay shutdown: %v", err)
		return err
	}
	return <-errCh
}

func (s *Server) publish(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFrameBody)
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	if _, err := wire.DecodeFrame(req.Frame); err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_FRAME", err)
		return
	}
	ref, err := s.ledger.Publish(c.Request.Context(), req.Frame)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, publishResponse{Ref: ref})
}

func (s *Server) poll(c *gin.Context) {
	var cursor uint64
	if raw := c.Query("cursor"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "BAD_CURSOR", err)
			return
		}
		cursor = n
	}
	batch, err := s.ledger.Poll(c.Request.Context(), domain.Cursor(cursor))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) confirmations(c *gin.Context) {
	n, err := s.ledger.Confirmations(c.Request.Context(), domain.Ref(c.Param("ref")))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmations": n})
}

func (s *Server) timestamp(c *gin.Context) {
	ts, err := s.ledger.TimestampOf(c.Request.Context(), domain.Ref(c.Param("ref")))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timestamp": ts})
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	pub, err := domain.PublicKeyFromBytes(req.PublicKey)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_KEY", err)
		return
	}
	addr := domain.Address(c.Param("addr"))
	if err := s.ids.Register(c.Request.Context(), addr, pub); err != nil {
		s.abort(c, err)
		return
	}
	rec, err := s.ids.Identity(c.Request.Context(), addr)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) identity(c *gin.Context) {
	rec, err := s.ids.Identity(c.Request.Context(), domain.Address(c.Param("addr")))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) publishPackage(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPackageBody))
	if err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	pkg, err := wire.DecodePackage(body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "BAD_PACKAGE", err)
		return
	}
	if err := s.pkgs.Publish(c.Request.Context(), domain.Address(c.Param("addr")), pkg); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fetchPackage(c *gin.Context) {
	pkg, err := s.pkgs.Fetch(c.Request.Context(), domain.Address(c.Param("addr")))
	if err != nil {
		s.abort(c, err)
		return
	}
	b, err := wire.EncodePackage(pkg)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Data(http.StatusOK, cborType, b)
}

// abort maps a backend error to its status.
func (s *Server) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.fail(c, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, domain.ErrAlreadyExists):
		s.fail(c, http.StatusConflict, "CONFLICT", err)
	case errors.Is(err, domain.ErrRefFailed):
		s.fail(c, http.StatusGone, "REF_FAILED", err)
	default:
		s.log.Ctx(c.Request.Context()).Error("request error", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
	}
}

func (s *Server) fail(c *gin.Context, status int, code string, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Code: code})
}
