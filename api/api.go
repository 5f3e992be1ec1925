package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/cloud"
	"github.com/OmGuptaIND/rekordr/compositor"
	"github.com/OmGuptaIND/rekordr/engine"
	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/OmGuptaIND/rekordr/store"
	"github.com/OmGuptaIND/rekordr/uploader"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// EngineFactory builds the engine for a new recording.
type EngineFactory func(req StartRecordingRequest) *engine.Engine

// ApiServerOptions defines the configuration options for the ApiServer.
type ApiServerOptions struct {
	Logger *zap.Logger
	Port   int

	Store     *store.AppStore
	Cloud     cloud.CloudClient
	NewEngine EngineFactory
}

// ApiServer controls recordings over HTTP and resolves recorded videos.
type ApiServer struct {
	ctx    context.Context
	app    *fiber.App
	logger *zap.Logger
	opts   ApiServerOptions
	done   chan bool

	mu   sync.Mutex
	addr net.Addr
}

// NewApiServer initializes a new API server with the specified options.
func NewApiServer(ctx context.Context, opts ApiServerOptions) *ApiServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Store == nil {
		opts.Store = store.NewStore()
	}

	apiServer := &ApiServer{
		ctx:    ctx,
		logger: logger.Named("api"),
		opts:   opts,
		done:   make(chan bool, 1),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apiServer.errorHandler,
	})

	app.Get("/ping", apiServer.pingHandler)

	app.Post("/recordings", apiServer.startRecording)
	app.Get("/recordings", apiServer.listRecordings)
	app.Get("/recordings/:id", apiServer.getRecording)
	app.Patch("/recordings/:id/pause", apiServer.pauseRecording)
	app.Patch("/recordings/:id/resume", apiServer.resumeRecording)
	app.Post("/recordings/:id/stop", apiServer.stopRecording)
	app.Get("/recordings/:id/preview", apiServer.webcamPreview)
	app.Delete("/recordings/:id", apiServer.deleteRecording)

	app.Get("/videos/:id", apiServer.getVideo)

	app.Use(apiServer.notFoundHandler)

	apiServer.app = app

	return apiServer
}

// Done returns a channel that will be closed when the server is done.
func (a *ApiServer) Done() <-chan bool {
	return a.done
}

// Addr is the address the server listens on, nil before it started.
func (a *ApiServer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.addr
}

func (a *ApiServer) pingHandler(c fiber.Ctx) error {
	return c.SendString("pong")
}

func active(s engine.State) bool {
	switch s {
	case engine.StateIdle, engine.StateCompleted, engine.StateFailed:
		return false
	}

	return true
}

func (a *ApiServer) startRecording(c fiber.Ctx) error {
	var req StartRecordingRequest

	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
		}
	}

	if req.Mode != "" {
		if _, err := compositor.ParseMode(req.Mode); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	if a.opts.NewEngine == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Recording is not available")
	}

	for _, e := range a.opts.Store.ListEngines() {
		if active(e.State()) {
			return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("Recording %s is in progress", e.ID))
		}
	}

	e := a.opts.NewEngine(req)
	a.opts.Store.AddEngine(e)

	// The session outlives the request.
	if err := e.Start(a.ctx); err != nil {
		a.logger.Warn("failed to start recording", zap.String("id", e.ID), zap.Error(err))
		return statusError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartRecordingResponse{
		Status: "Recording started",
		Id:     e.ID,
		State:  e.Status(),
	})
}

func (a *ApiServer) lookupEngine(c fiber.Ctx) (*engine.Engine, error) {
	e, ok := a.opts.Store.GetEngine(c.Params("id"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "Recording not found")
	}

	return e, nil
}

func (a *ApiServer) listRecordings(c fiber.Ctx) error {
	resp := ListRecordingsResponse{Recordings: []RecordingResponse{}}

	for _, e := range a.opts.Store.ListEngines() {
		resp.Recordings = append(resp.Recordings, RecordingResponse{Id: e.ID, Status: e.Status()})
	}

	return c.JSON(resp)
}

func (a *ApiServer) getRecording(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	return c.JSON(RecordingResponse{Id: e.ID, Status: e.Status()})
}

func (a *ApiServer) pauseRecording(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	if err := e.Pause(); err != nil {
		return statusError(err)
	}

	return c.JSON(RecordingResponse{Id: e.ID, Status: e.Status()})
}

func (a *ApiServer) resumeRecording(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	if err := e.Resume(); err != nil {
		return statusError(err)
	}

	return c.JSON(RecordingResponse{Id: e.ID, Status: e.Status()})
}

func (a *ApiServer) stopRecording(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	upload := false
	if q := c.Query("upload"); q != "" {
		if upload, err = strconv.ParseBool(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid upload flag")
		}
	}

	logger := a.logger.With(zap.String("id", e.ID))

	var res *engine.Result

	if upload {
		res, err = e.StopAndUpload(a.ctx, func(percent float64) {
			logger.Debug("upload progress", zap.Float64("percent", percent))
		})
	} else {
		res, err = e.Stop(a.ctx)
	}

	if err != nil {
		logger.Warn("failed to stop recording", zap.Error(err))
		return statusError(err)
	}

	if res == nil {
		return fiber.NewError(fiber.StatusConflict, "Nothing was recorded")
	}

	if res.URL != "" {
		a.opts.Store.AddVideo(store.Video{
			ID:        res.VideoID,
			URL:       res.URL,
			Key:       uploader.ObjectKey(res.VideoID, res.Artifact.Extension),
			MimeType:  res.Artifact.MimeType,
			Size:      res.Artifact.Size(),
			Duration:  res.Duration,
			CreatedAt: time.Now(),
		})
	}

	return c.JSON(StopRecordingResponse{
		Status:   "Recording stopped",
		Id:       e.ID,
		VideoId:  res.VideoID,
		Url:      res.URL,
		MimeType: res.Artifact.MimeType,
		Size:     res.Artifact.Size(),
		Chunks:   res.Artifact.Chunks,
		Duration: res.Duration,
		Forced:   res.Forced,
	})
}

// webcamPreview serves the latest webcam frame as a JPEG.
func (a *ApiServer) webcamPreview(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	preview, ok := e.WebcamPreview()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Webcam is not available")
	}

	frame, ok := preview.Frame()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "Webcam has no frame yet")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")

	return c.Send(buf.Bytes())
}

func (a *ApiServer) deleteRecording(c fiber.Ctx) error {
	e, err := a.lookupEngine(c)
	if err != nil {
		return err
	}

	e.Teardown()
	a.opts.Store.RemoveEngine(e.ID)

	return c.SendStatus(fiber.StatusNoContent)
}

// getVideo resolves a video id, first from the videos uploaded by this server, then from storage.
func (a *ApiServer) getVideo(c fiber.Ctx) error {
	id := c.Params("id")

	if v, ok := a.opts.Store.LookupVideo(id); ok {
		return c.JSON(VideoResponse{Id: v.ID, Url: v.URL, Key: v.Key, MimeType: v.MimeType, Size: v.Size})
	}

	if a.opts.Cloud == nil {
		return fiber.NewError(fiber.StatusNotFound, "Video not found")
	}

	seen := map[string]bool{}

	for _, f := range recorder.Preferences {
		if seen[f.Extension] {
			continue
		}
		seen[f.Extension] = true

		key := uploader.ObjectKey(id, f.Extension)

		exists, err := a.opts.Cloud.Exists(c.UserContext(), key)
		if err != nil {
			return err
		}

		if exists {
			return c.JSON(VideoResponse{Id: id, Url: a.opts.Cloud.ObjectURL(key), Key: key})
		}
	}

	return fiber.NewError(fiber.StatusNotFound, "Video not found")
}

// statusError maps engine and recorder errors onto HTTP errors.
func statusError(err error) error {
	var f *engine.Failure

	if errors.As(err, &f) {
		code := fiber.StatusInternalServerError

		switch f.Kind {
		case engine.KindPermissionDenied:
			code = fiber.StatusForbidden
		case engine.KindEncodingUnsupported, engine.KindNoDataCaptured, engine.KindExternalCancellation:
			code = fiber.StatusUnprocessableEntity
		case engine.KindUploadFailure:
			code = fiber.StatusBadGateway
		}

		return fiber.NewError(code, f.Error())
	}

	if errors.Is(err, engine.ErrInvalidState) || errors.Is(err, recorder.ErrInvalidState) || errors.Is(err, engine.ErrTornDown) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	return err
}

// errorHandler handles all internal server errors.
func (a *ApiServer) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	if code >= fiber.StatusInternalServerError {
		a.logger.Error("request failed", zap.Int("code", code), zap.String("path", c.Path()), zap.Error(err))
	} else {
		a.logger.Debug("request rejected", zap.Int("code", code), zap.String("path", c.Path()), zap.String("msg", msg))
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	return c.Status(code).SendString(msg)
}

func (a *ApiServer) notFoundHandler(c fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, "Resource not found")
}

// Start begins listening on the configured port, port 0 picks a free one.
func (a *ApiServer) Start() <-chan struct{} {
	addr := fmt.Sprintf(":%d", a.opts.Port)
	startedChan := make(chan struct{})

	var once sync.Once
	started := func() { once.Do(func() { close(startedChan) }) }

	go func() {
		err := a.app.Listen(addr, fiber.ListenConfig{
			ListenerNetwork:       "tcp",
			DisableStartupMessage: true,
			GracefulContext:       a.ctx,
			OnShutdownError: func(err error) {
				a.logger.Error("error shutting down the server", zap.Error(err))
				close(a.done)
			},
			OnShutdownSuccess: func() {
				a.logger.Info("server shutdown successfully")
				close(a.done)
			},
			ListenerAddrFunc: func(ln net.Addr) {
				a.mu.Lock()
				a.addr = ln
				a.mu.Unlock()

				a.logger.Info("api server listening", zap.String("addr", ln.String()))
				started()
			},
		})

		if err != nil {
			a.logger.Error("error starting the server", zap.Error(err))
			started()
		}
	}()

	return startedChan
}

// Close gracefully shuts down the server.
func (a *ApiServer) Close() error {
	a.logger.Info("closing the API server")

	return a.app.Shutdown()
}
