package worker

import (
	"context"
	"log/slog"

	"coverscan/features/job"
	"coverscan/internal/collections"
)

type MergeProcessor struct {
	merger collections.Merger
	logger *slog.Logger
}

func NewMergeProcessor(merger collections.Merger, logger *slog.Logger) *MergeProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MergeProcessor{merger: merger, logger: logger}
}

func (p *MergeProcessor) Process(ctx context.Context, _ *job.Job) error {
	res, err := p.merger.MergeDuplicates(ctx)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "collection merge finished", "groups", res.Groups, "removed", res.Removed, "moved_books", res.MovedBooks)
	return nil
}
