package command

import (
	"context"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/commit"
	"github.com/getpup/pupstore/es/globalindex"
	"github.com/getpup/pupstore/es/query"
	pupstore "github.com/getpup/pupstore/pkg"
)

// Service implements Handlers on top of the engines.
type Service struct {
	appender *commit.Appender
	indexer  *globalindex.Indexer
	reader   *query.Reader
}

var _ Handlers = (*Service)(nil)

// NewService creates a Service.
func NewService(appender *commit.Appender, indexer *globalindex.Indexer, reader *query.Reader) *Service {
	return &Service{appender: appender, indexer: indexer, reader: reader}
}

// Version implements Handlers.
func (s *Service) Version(_ context.Context, _ Version) (VersionResult, error) {
	return VersionResult{Version: pupstore.Version()}, nil
}

// Stats implements Handlers.
func (s *Service) Stats(ctx context.Context, _ Stats) (es.Stats, error) {
	return s.reader.Stats(ctx)
}

// Commit implements Handlers.
func (s *Service) Commit(ctx context.Context, cmd Commit) (es.CommitResult, error) {
	return s.appender.Append(ctx, cmd.StreamID, cmd.Expected, cmd.Events, cmd.Metadata)
}

// FetchStreamChangesets implements Handlers.
func (s *Service) FetchStreamChangesets(ctx context.Context, cmd FetchStreamChangesets) (query.StreamChangesets, error) {
	return s.reader.ReadStream(ctx, cmd.StreamID, cmd.From, cmd.To)
}

// FetchStreamEvents implements Handlers.
func (s *Service) FetchStreamEvents(ctx context.Context, cmd FetchStreamEvents) (query.StreamEvents, error) {
	return s.reader.ReadStreamEvents(ctx, cmd.StreamID, cmd.From, cmd.To)
}

// FetchGlobalChangesets implements Handlers.
func (s *Service) FetchGlobalChangesets(ctx context.Context, cmd FetchGlobalChangesets) ([]es.Changeset, error) {
	return s.reader.ReadGlobal(ctx, cmd.From, cmd.To, cmd.Limit)
}

// AssignGlobalIndexes implements Handlers.
func (s *Service) AssignGlobalIndexes(ctx context.Context, _ AssignGlobalIndexes) (globalindex.Result, error) {
	return s.indexer.AssignGlobalIndexes(ctx)
}
