package store

import (
	"context"
	"errors"
	"time"

	"github.com/askarin/cryptboard/internal/common"
)

// Sweep reconciles blob storage against metadata: chunk bytes whose content
// row is gone (a delete interrupted between the two steps) are removed, and
// un-finalized content older than PendingTTL is garbage-collected. Run once
// at startup and periodically from RunGC.
func (s *Service) Sweep(ctx context.Context) error {
	refs, err := s.blob.ListContents(ctx)
	if err != nil {
		return err
	}

	repo := s.repos.Contents(s.repos.DB())
	for _, ref := range refs {
		_, err := repo.Get(ctx, ref.ContentID)
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Info(ctx, "removing orphaned chunk bytes", "content_id", ref.ContentID)
			if err := s.blob.DeleteContent(ctx, ref.SessionID, ref.ContentID); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}

	if s.pendingTTL <= 0 {
		return nil
	}

	stale, err := repo.ListPendingBefore(ctx, time.Now().UTC().Add(-s.pendingTTL))
	if err != nil {
		return err
	}
	for _, item := range stale {
		s.logger.Info(ctx, "garbage-collecting stale pending content", "content_id", item.ID)
		if _, err := s.DeleteContent(ctx, "", item.ID); err != nil {
			return err
		}
	}
	return nil
}

// ExpireSessions clears every session idle longer than SessionTTL and
// reports their ids, so the caller can broadcast session-cleared.
func (s *Service) ExpireSessions(ctx context.Context) ([]string, error) {
	if s.sessionTTL <= 0 {
		return nil, nil
	}

	ids, err := s.repos.Sessions(s.repos.DB()).ListIdle(ctx, time.Now().UTC().Add(-s.sessionTTL))
	if err != nil {
		return nil, err
	}

	var cleared []string
	for _, id := range ids {
		s.logger.Info(ctx, "expiring idle session", "session_id", id)
		if _, err := s.ClearSession(ctx, id); err != nil {
			return cleared, err
		}
		cleared = append(cleared, id)
	}
	return cleared, nil
}

// RunGC runs Sweep and ExpireSessions on the given interval until ctx is
// cancelled. Expired session ids are passed to onSessionExpired, which must
// only be invoked after the deletions are durable (ExpireSessions
// guarantees that).
func (s *Service) RunGC(ctx context.Context, interval time.Duration, onSessionExpired func(sessionID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
			}
			cleared, err := s.ExpireSessions(ctx)
			if err != nil {
				s.logger.Error(ctx, "session expiry failed", "error", err)
			}
			if onSessionExpired != nil {
				for _, id := range cleared {
					onSessionExpired(id)
				}
			}
		}
	}
}
