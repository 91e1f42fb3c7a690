// Package backend defines the narrow interface this client consumes from
// the hosted backend: row CRUD, object storage, sessions, and the
// realtime change feed. Implementations live in pkg/rest, pkg/auth and
// pkg/realtime; tests substitute in-memory fakes.
package backend

import (
	"context"
	"io"
	"time"
)

// Filter is an equality predicate on a column.
type Filter struct {
	Column string
	Value  any
}

// Order is one sort key of an ordered select.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a row selection: equality filters, sort keys and an
// optional column list (defaults to "*").
type Query struct {
	Filters []Filter
	Orders  []Order
	Columns string
}

// Where starts a query with one equality filter.
func Where(column string, value any) Query {
	return Query{Filters: []Filter{{Column: column, Value: value}}}
}

func (q Query) Where(column string, value any) Query {
	q.Filters = append(q.Filters, Filter{Column: column, Value: value})
	return q
}

func (q Query) OrderAsc(column string) Query {
	q.Orders = append(q.Orders, Order{Column: column})
	return q
}

func (q Query) OrderDesc(column string) Query {
	q.Orders = append(q.Orders, Order{Column: column, Descending: true})
	return q
}

func (q Query) Select(columns string) Query {
	q.Columns = columns
	return q
}

// Rows is the backend row store. Insert and Update decode the affected
// row into dest when dest is non-nil. Single fails unless exactly one row
// matches; MaybeSingle reports found=false for zero rows.
type Rows interface {
	Insert(ctx context.Context, table string, record, dest any) error
	Select(ctx context.Context, table string, q Query, dest any) error
	Single(ctx context.Context, table string, q Query, dest any) error
	MaybeSingle(ctx context.Context, table string, q Query, dest any) (found bool, err error)
	Update(ctx context.Context, table string, patch any, q Query, dest any) error
	Delete(ctx context.Context, table string, q Query) error
	RPC(ctx context.Context, fn string, args, dest any) error
}

// Objects is the backend object storage.
type Objects interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader) error
	PublicURL(bucket, key string) string
}

// Session is an authenticated backend session.
type Session struct {
	AccessToken string
	UserID      string
	Email       string
	ExpiresAt   time.Time
}

// Valid reports whether the session carries a usable token.
func (s *Session) Valid() bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}

// Sessions exposes the current session and auth-state transitions.
// Session returns nil when nobody is logged in. Listeners registered via
// OnAuthStateChange fire on every login, refresh and logout; the returned
// function removes the listener and is safe to call more than once.
type Sessions interface {
	Session(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(*Session)) (remove func())
}
