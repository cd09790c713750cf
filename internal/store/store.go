// Package store contains the gorm backed persistence used by the gateway.
// Every call goes to the database, nothing is cached in process so policy
// changes made by an administrator apply on the next request
package store

import "errors"

var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("record conflicts with an existing one")
	ErrNotClaimed = errors.New("key could not be claimed")
)
