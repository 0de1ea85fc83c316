package syncer

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/taptrack/internal/directory"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
)

// DirectoryFeed is the remote side of the user-directory read path. Fully
// decoupled from the attendance push protocol: it only ever touches the
// directory, never record state.
type DirectoryFeed interface {
	Changes() <-chan directory.Change
	FetchAll(ctx context.Context) ([]directory.User, error)
}

// PrefetchDirectory replaces the local directory with a full remote snapshot.
// Called once at startup when the remote is reachable; an offline boot keeps
// the persisted directory from the previous session.
func PrefetchDirectory(ctx context.Context, feed DirectoryFeed, dir *directory.Directory) error {
	users, err := feed.FetchAll(ctx)
	if err != nil {
		return err
	}
	dir.Replace(users)
	slog.Info("Directory prefetched", slog.Int("users", len(users)))
	return nil
}

// RunDirectoryFeed applies streamed directory changes until ctx is cancelled
// or the feed closes.
func RunDirectoryFeed(ctx context.Context, feed DirectoryFeed, dir *directory.Directory) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-feed.Changes():
			if !ok {
				slog.Warn("Directory feed closed")
				return
			}
			dir.Apply(change)
			slog.Debug("Directory change applied",
				logfields.UID(change.UID),
				slog.Bool("removed", change.Removed))
		}
	}
}
