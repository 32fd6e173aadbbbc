package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-cli/internal/blob"
	"github.com/sells-group/contract-cli/internal/session"
	"github.com/sells-group/contract-cli/internal/store"
	"github.com/sells-group/contract-cli/internal/termextract"
	"github.com/sells-group/contract-cli/internal/textextract"
	anthropicpkg "github.com/sells-group/contract-cli/pkg/anthropic"
)

// appEnv holds the shared services behind every session.
type appEnv struct {
	Store    store.Store // may be nil
	Blobs    blob.Store  // may be nil
	Collab   session.Collaborators
	Sessions *session.Manager
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Blobs != nil {
		_ = e.Blobs.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// envOptions selects which services initApp builds.
type envOptions struct {
	Store      bool
	Blobs      bool
	Extraction bool
}

// initStore opens and migrates the configured database.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initExtraction builds the text and term extraction collaborators.
func initExtraction() (*textextract.Router, termextract.Extractor, error) {
	router, err := textextract.NewRouter(cfg.OCR)
	if err != nil {
		return nil, nil, err
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return router, termextract.New(client, cfg.Anthropic, cfg.Extraction.RatePerSec), nil
}

// initApp builds the services named by opts. Callers should defer
// env.Close().
func initApp(ctx context.Context, opts envOptions) (*appEnv, error) {
	env := &appEnv{}

	if opts.Store {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
		env.Collab.Store = st
	}

	if opts.Blobs {
		b, err := blob.New(ctx, cfg.Blob)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init blob store")
		}
		env.Blobs = b
		env.Collab.Blobs = b
		zap.L().Info("blob store enabled", zap.String("provider", cfg.Blob.Provider))
	}

	if opts.Extraction {
		router, terms, err := initExtraction()
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Collab.Text = router
		env.Collab.Terms = terms
		zap.L().Info("extraction enabled",
			zap.String("ocr_provider", cfg.OCR.Provider),
			zap.String("model", cfg.Anthropic.Model),
		)
	}

	env.Sessions = session.NewManager(cfg, env.Collab)
	return env, nil
}
