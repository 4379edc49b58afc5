// Package featuredb inspects and repairs COLMAP feature databases. Inspection
// is strictly read-only; cleanup always writes a timestamped backup before
// deleting orphaned rows.
package featuredb
