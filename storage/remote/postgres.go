package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id         text NOT NULL,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`

// Postgres is the Postgres-backed document store client: one jsonb row per
// document, LISTEN/NOTIFY for real-time subscriptions. Notifications carry
// only the record id (the payload limit is too small for documents); the
// subscriber re-fetches the document and delivers it as a delta snapshot.
type Postgres struct {
	db     *sqlx.DB
	dsn    string
	logger core.Logger
}

var _ track.Remote = (*Postgres)(nil)

func NewPostgres(conf *core.Config, logger core.Logger) (*Postgres, error) {
	dsn := postgresDSN(conf)
	db, err := sqlx.Connect(conf.Remote.Postgres.Engine, dsn)
	if err != nil {
		return nil, unavailable(err)
	}
	if _, err = db.Exec(documentsSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ensuring documents table")
	}
	return &Postgres{db: db, dsn: dsn, logger: logger}, nil
}

func postgresDSN(conf *core.Config) string {
	sslMode := "require"
	if conf.Remote.Postgres.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Remote.Postgres.Engine,
		User:     url.UserPassword(conf.Remote.Postgres.User, conf.Remote.Postgres.Password),
		Host:     conf.Remote.PostgresAddress(),
		Path:     conf.Remote.Postgres.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Collection(name string) track.RemoteCollection {
	return &pgCollection{
		db:      p.db,
		dsn:     p.dsn,
		logger:  p.logger,
		name:    name,
		channel: "skilllab_" + name,
	}
}

type pgCollection struct {
	db      *sqlx.DB
	dsn     string
	logger  core.Logger
	name    string
	channel string
}

func (c *pgCollection) FetchAll(ctx context.Context) ([]json.RawMessage, error) {
	var rows [][]byte
	err := c.db.SelectContext(ctx, &rows,
		`SELECT doc FROM documents WHERE collection = $1`, c.name)
	if err != nil {
		return nil, unavailable(err)
	}
	docs := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		docs[i] = json.RawMessage(row)
	}
	return docs, nil
}

func (c *pgCollection) FetchWhere(ctx context.Context, field, value string) ([]json.RawMessage, error) {
	var rows [][]byte
	err := c.db.SelectContext(ctx, &rows,
		`SELECT doc FROM documents WHERE collection = $1 AND COALESCE(doc->>$2, '') = $3`,
		c.name, field, value)
	if err != nil {
		return nil, unavailable(err)
	}
	docs := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		docs[i] = json.RawMessage(row)
	}
	return docs, nil
}

func (c *pgCollection) fetchOne(ctx context.Context, id string) (json.RawMessage, error) {
	var row []byte
	err := c.db.GetContext(ctx, &row,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`, c.name, id)
	if err != nil {
		return nil, unavailable(err)
	}
	return json.RawMessage(row), nil
}

func (c *pgCollection) WriteOne(ctx context.Context, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		c.name, id, data)
	if err != nil {
		return unavailable(err)
	}
	if _, err = c.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, c.channel, id); err != nil {
		// the write itself succeeded; subscribers catch up on the next refresh
		c.logger.Warn(fmt.Sprintf("remote: notify %s failed: %v", c.channel, err))
	}
	return nil
}

func (c *pgCollection) Subscribe(ctx context.Context, fn func(docs []json.RawMessage, full bool)) (func(), error) {
	listener := pq.NewListener(c.dsn, 2*time.Second, time.Minute, nil)
	if err := listener.Listen(c.channel); err != nil {
		_ = listener.Close()
		return nil, unavailable(err)
	}

	go func() {
		for n := range listener.Notify {
			if n == nil { // reconnect marker
				continue
			}
			doc, err := c.fetchOne(ctx, n.Extra)
			if err != nil {
				c.logger.Warn(fmt.Sprintf("remote: fetching notified document %s/%s: %v", c.name, n.Extra, err))
				continue
			}
			fn([]json.RawMessage{doc}, false)
		}
	}()

	return func() { _ = listener.Close() }, nil
}
