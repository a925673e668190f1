// Package postgres implements domain.Store on PostgreSQL via pgx.
//
// The schema is created on Open. Rows are scoped by owner so several local
// identities can share one database.
package postgres
