package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RouteRecord is the audit row for one routed query. It deliberately has no
// column for the query text or the generated output.
type RouteRecord struct {
	bun.BaseModel `bun:"table:route_records,alias:rr"`

	ID         string    `bun:",pk"`
	BackendID  string    `bun:",notnull"`
	Kind       string    `bun:",notnull"`
	Status     string    `bun:",notnull"`
	Fragments  int       `bun:",notnull"`
	Bytes      int       `bun:",notnull"`
	Error      string    `bun:",nullzero"`
	StartedAt  time.Time `bun:",notnull"`
	DurationMS int64     `bun:",notnull"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
