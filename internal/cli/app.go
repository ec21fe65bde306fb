package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/cache"
	"github.com/mesh-intelligence/easel/internal/canvas"
	"github.com/mesh-intelligence/easel/pkg/sqlite"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// envUser names the acting user when --user is not given.
const envUser = "EASEL_USER"

// session is an opened store with the service over it.
type session struct {
	store sqlite.Store
	cache *cache.Redis
	svc   *canvas.Service
	cfg   types.Config
}

func (s *session) Close() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("cli: closing cache")
		}
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("cli: closing store")
	}
}

// open attaches the configured store and builds the service. The caller
// must Close the session.
func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := a.storeConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Backend == types.BackendSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}
	store, err := sqlite.Open(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	s := &session{store: store, cfg: cfg}

	var mc types.MetadataCache
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			// The cache is optional; run without it.
			log.Warn().Err(err).Msg("cli: metadata cache unavailable")
		} else {
			s.cache = rc
			mc = rc
		}
	}
	s.svc = canvas.NewService(store, nil, mc, canvas.Options{
		RetryBaseDelay: cfg.EffectiveRetryBaseDelay(),
		DefaultRetries: cfg.MaxRetries,
	})
	return s, nil
}

// user returns the acting user id.
func (a *app) user() (string, error) {
	u := a.v.GetString(cfgKeyUser)
	if u == "" {
		u = os.Getenv(envUser)
	}
	if u == "" {
		return "", usageErrorf("no user: pass --user or set %s", envUser)
	}
	return u, nil
}

// run opens a session, resolves the user and calls fn.
func (a *app) run(ctx context.Context, fn func(s *session, user string) error) error {
	user, err := a.user()
	if err != nil {
		return err
	}
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, user)
}

// print writes v as indented JSON in --json mode, otherwise calls text.
func (a *app) print(w io.Writer, v any, text func(w io.Writer)) error {
	if a.flags.jsonMode {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal output")
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	text(w)
	return nil
}

// readJSON decodes a file argument, or stdin when path is "-".
func readJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return usageErrorf("parse %s: %v", path, err)
	}
	return nil
}

// resultError turns a failed service result into a CLI error.
func resultError(err error) error {
	switch types.ErrorCode(err) {
	case types.CodeInvalidRequest, types.CodeNotFound, types.CodeBackupNotFound,
		types.CodeThreadNotFound, types.CodeAuthenticationRequired:
		return userError{err}
	}
	return err
}
