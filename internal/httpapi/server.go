// Package httpapi exposes the command set over HTTP.
//
// Every route builds one command variant and runs it through command.Dispatch,
// so the HTTP surface cannot grow an operation the command layer lacks.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/command"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/query"
)

// commitBodyLimit caps commit bodies.
const commitBodyLimit = "4M"

// Server serves the store's commands.
type Server struct {
	handlers command.Handlers
	logger   es.Logger
	echo     *echo.Echo
}

// New creates a Server and registers its routes.
func New(handlers command.Handlers, logger es.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{handlers: handlers, logger: logger, echo: e}
	e.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	if s.logger != nil {
		s.logger.Info(ctx, "http server listening", "addr", addr)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return ctx.Err()
}

func (s *Server) routes() {
	s.echo.GET("/version", s.version)
	s.echo.GET("/stats", s.stats)
	s.echo.POST("/commit", s.commit, middleware.BodyLimit(commitBodyLimit))
	s.echo.GET("/streams/:stream_id/changesets", s.streamChangesets)
	s.echo.GET("/streams/:stream_id/events", s.streamEvents)
	s.echo.GET("/changesets", s.globalChangesets)
	s.echo.POST("/global-indexer", s.globalIndexer)
}

func (s *Server) dispatch(c echo.Context, cmd command.Command) (any, error) {
	return command.Dispatch(c.Request().Context(), s.handlers, cmd)
}

func (s *Server) version(c echo.Context) error {
	res, err := s.dispatch(c, command.Version{})
	if err != nil {
		return s.fail(c, "", err)
	}
	return c.JSON(http.StatusOK, versionResponse{Version: res.(command.VersionResult).Version})
}

func (s *Server) stats(c echo.Context) error {
	res, err := s.dispatch(c, command.Stats{})
	if err != nil {
		return s.fail(c, "", err)
	}
	st := res.(es.Stats)
	return c.JSON(http.StatusOK, statsResponse{
		TotalStreams:    st.TotalStreams,
		TotalChangesets: st.TotalChangesets,
		TotalEvents:     st.TotalEvents,
		MaxGlobalIndex:  st.MaxGlobalIndex,
	})
}

func (s *Server) commit(c echo.Context) error {
	streamID := c.QueryParam("stream_id")
	if streamID == "" {
		return s.fail(c, "", es.ErrMissingStreamID)
	}

	expected := es.Any()
	if raw := c.QueryParam("expected_changeset_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return s.fail(c, streamID, fmt.Errorf("%w: %q", errInvalidExpected, raw))
		}
		expected = es.Exact(n)
	}

	body, err := io.ReadAll(c.Request().Body)
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return s.fail(c, streamID, errBodyTooLarge)
	}
	if err != nil {
		return s.fail(c, streamID, fmt.Errorf("%w: %w", ErrInvalidBody, err))
	}
	events, metadata, err := DecodeCommit(body)
	if err != nil {
		return s.fail(c, streamID, err)
	}

	res, err := s.dispatch(c, command.Commit{
		StreamID: streamID,
		Expected: expected,
		Events:   events,
		Metadata: metadata,
	})
	if err != nil {
		return s.fail(c, streamID, err)
	}
	result := res.(es.CommitResult)
	return c.JSON(http.StatusOK, commitResponse{StreamID: result.StreamID, ChangesetID: result.ChangesetID})
}

func (s *Server) streamChangesets(c echo.Context) error {
	streamID, err := streamParam(c)
	if err != nil {
		return s.fail(c, c.Param("stream_id"), err)
	}
	from, to, err := rangeParams(c)
	if err != nil {
		return s.fail(c, streamID, err)
	}

	res, err := s.dispatch(c, command.FetchStreamChangesets{StreamID: streamID, From: from, To: to})
	if err != nil {
		return s.fail(c, streamID, err)
	}
	sc := res.(query.StreamChangesets)
	out := streamChangesetsResponse{StreamID: sc.StreamID, Changesets: make([]changesetView, len(sc.Changesets))}
	for i := range sc.Changesets {
		out.Changesets[i] = newChangesetView(&sc.Changesets[i], false)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) streamEvents(c echo.Context) error {
	streamID, err := streamParam(c)
	if err != nil {
		return s.fail(c, c.Param("stream_id"), err)
	}
	from, to, err := rangeParams(c)
	if err != nil {
		return s.fail(c, streamID, err)
	}

	res, err := s.dispatch(c, command.FetchStreamEvents{StreamID: streamID, From: from, To: to})
	if err != nil {
		return s.fail(c, streamID, err)
	}
	se := res.(query.StreamEvents)
	out := streamEventsResponse{StreamID: se.StreamID, Events: make([]streamEventView, len(se.Events))}
	for i, e := range se.Events {
		out.Events[i] = streamEventView{ChangesetID: e.ChangesetID, Event: rawJSON(e.Event.Payload, "null")}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) globalChangesets(c echo.Context) error {
	from, to, err := rangeParams(c)
	if err != nil {
		return s.fail(c, "", err)
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return s.fail(c, "", fmt.Errorf("%w: limit %q", es.ErrInvalidFilterType, raw))
		}
	}

	res, err := s.dispatch(c, command.FetchGlobalChangesets{From: from, To: to, Limit: limit})
	if err != nil {
		return s.fail(c, "", err)
	}
	changesets := res.([]es.Changeset)
	out := globalChangesetsResponse{Changesets: make([]changesetView, len(changesets))}
	for i := range changesets {
		out.Changesets[i] = newChangesetView(&changesets[i], true)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) globalIndexer(c echo.Context) error {
	res, err := s.dispatch(c, command.AssignGlobalIndexes{})
	if err != nil {
		return s.fail(c, "", err)
	}
	return c.JSON(http.StatusOK, indexerResponse{Assigned: res.(globalindex.Result).Assigned})
}

// streamParam returns the stream id path segment decoded. Echo routes on the raw
// path when the request carries one (an escaped "/" in the id), leaving the
// parameter escaped.
func streamParam(c echo.Context) (string, error) {
	raw := c.Param("stream_id")
	if c.Request().URL.RawPath == "" {
		return raw, nil
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidStreamID, err)
	}
	return id, nil
}

func rangeParams(c echo.Context) (from, to *int64, err error) {
	if from, err = query.ParseBound(c.QueryParam("from")); err != nil {
		return nil, nil, err
	}
	if to, err = query.ParseBound(c.QueryParam("to")); err != nil {
		return nil, nil, err
	}
	return from, to, es.ValidateRange(from, to)
}

// handleError renders errors raised outside the handlers, such as an oversized
// body rejected by the body limit, in the same shape as handler failures.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if !errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		s.echo.DefaultHTTPErrorHandler(err, c)
		return
	}
	if err := s.fail(c, c.QueryParam("stream_id"), errBodyTooLarge); err != nil {
		s.echo.Logger.Error(err)
	}
}

func (s *Server) fail(c echo.Context, streamID string, err error) error {
	status, code := classify(err)
	if status >= http.StatusInternalServerError && s.logger != nil {
		s.logger.Error(c.Request().Context(), "request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err)
	}
	return c.JSON(status, errorResponse{StreamID: streamID, Error: code, Message: err.Error()})
}
