package pgstore

import (
	"time"

	"github.com/uptrace/bun"
)

// KVEntryDao maps to the 'kv_entries' table in PostgreSQL.
type KVEntryDao struct {
	bun.BaseModel `bun:"table:kv_entries,alias:kv"`
	Key           string    `bun:"key,pk,type:varchar(255)"`
	Value         string    `bun:"value,notnull,type:text"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
