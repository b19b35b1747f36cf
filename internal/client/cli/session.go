package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/synk/internal/client/client"
	"github.com/dmitrijs2005/synk/internal/client/services"
	"github.com/dmitrijs2005/synk/internal/client/store"
	"github.com/dmitrijs2005/synk/internal/filex"
)

var errNoUser = errors.New("no account configured: pass --user or set username in the config file")

// openStore opens the local store and binds it to the configured user.
func (o *RootOptions) openStore(ctx context.Context) (*store.Store, error) {
	if o.config.Username == "" {
		return nil, errNoUser
	}

	path, err := filex.EnsureParentDir(o.config.DBPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	if err := st.Bind(ctx, o.config.Username); err != nil {
		_ = st.Close()
		return nil, err
	}

	o.logger.Debug(ctx, "local store opened", "path", path, "user", o.config.Username)
	return st, nil
}

// newClient builds an authenticated client, asking for the password.
func (o *RootOptions) newClient(w io.Writer) (*client.HTTPClient, error) {
	if o.config.Username == "" {
		return nil, errNoUser
	}
	pw, err := getPassword(w, fmt.Sprintf("Password for %s: ", o.config.Username))
	if err != nil {
		return nil, err
	}
	return client.NewHTTPClient(o.config.ServerURL, o.config.Username, pw, o.config.Timeout)
}

// withSync runs fn with a sync service over the local store and the server.
func (o *RootOptions) withSync(ctx context.Context, w io.Writer, fn func(services.SyncService) error) error {
	c, err := o.newClient(w)
	if err != nil {
		return err
	}

	st, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(services.NewSyncService(c, st))
}
