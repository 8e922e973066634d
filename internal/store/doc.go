// Package store defines the repository interfaces the crawler persists shows
// through. Implementations live in internal/storage; this package must not
// import database drivers or concrete clients.
package store
