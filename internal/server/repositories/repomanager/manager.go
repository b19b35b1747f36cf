package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/synk/internal/dbx"
	"github.com/dmitrijs2005/synk/internal/server/repositories/shards"
	"github.com/dmitrijs2005/synk/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Shards(db *sql.DB) shards.Repository
}
