// Package catalog defines the show/cast domain types shared across subsystems and
// the categorized client used to talk to the external show catalog.
package catalog
