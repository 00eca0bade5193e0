package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/issueindex/internal/config"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/lock"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/searchcache"
	"github.com/Aman-CERP/issueindex/internal/store"
	"github.com/Aman-CERP/issueindex/internal/store/mongostore"
)

// app is the wired runtime shared by the commands.
type app struct {
	cfg     *config.Config
	source  store.Source
	indexer *index.IssueIndexer
	manager *manager.Manager
}

func openApp(ctx context.Context, c *config.Config) (*app, error) {
	src, err := openSource(ctx, c.Storage)
	if err != nil {
		return nil, err
	}

	retriever, err := store.NewRetriever(src, c.Storage.ProjectsCacheSize)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	ix, err := index.New(index.Config{
		RootPath:      c.Index.RootPath,
		BatchSize:     c.Index.BatchSize,
		MinBatchSize:  c.Index.MinBatchSize,
		WriterThreads: c.Index.WriterThreads,
		MaxQueueSize:  c.Index.MaxQueueSize,
	}, index.NewFactories(nil), retriever)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	lk, err := lock.FromConfig(c.Lock)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	m, err := manager.New(manager.ConfigFrom(c), manager.Deps{
		Indexer: ix,
		Source:  src,
		Lock:    lk,
	})
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	return &app{cfg: c, source: src, indexer: ix, manager: m}, nil
}

func openSource(ctx context.Context, sc config.StorageConfig) (store.Source, error) {
	switch sc.Backend {
	case "mongo":
		s, err := mongostore.Open(ctx, sc.MongoURI, sc.MongoDatabase)
		if err != nil {
			return nil, ierrors.StoreError("failed to connect to mongo", err).
				WithSuggestion("check storage.mongo_uri")
		}
		return s, nil
	default:
		s, err := store.OpenSQLite(sc.Driver, sc.DSN)
		if err != nil {
			return nil, ierrors.StoreError(fmt.Sprintf("failed to open %s", sc.DSN), err)
		}
		slog.Debug("store_opened", slog.String("dsn", sc.DSN), slog.String("driver", store.DriverName(sc.Driver)))
		return s, nil
	}
}

// Close shuts the manager down, then the store.
func (a *app) Close() error {
	return errors.Join(a.manager.Shutdown(), a.source.Close())
}

// docCounts returns the document count of every index, reading through a
// request-scoped searcher cache.
func (a *app) docCounts(ctx context.Context) (map[string]uint64, error) {
	counts := make(map[string]uint64, len(index.Kinds))
	err := searchcache.Scope(ctx, a.manager.Caches(), func(ctx context.Context) error {
		cache := searchcache.FromContext(ctx)
		for _, kind := range index.Kinds {
			s, err := cache.Retrieve(kind, func() (*index.Searcher, error) {
				return a.indexer.OpenSearcher(kind)
			})
			if err != nil {
				return err
			}
			n, err := s.DocCount()
			if err != nil {
				return err
			}
			counts[string(kind)] = n
		}
		return nil
	})
	return counts, err
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, ierrors.ValidationError(fmt.Sprintf("invalid issue id %q", arg), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
