// Package sparse reads and writes sparse reconstruction models. It speaks
// COLMAP's binary and text layouts plus the PLY and NVM interchange formats,
// validating referential integrity on every import.
package sparse
