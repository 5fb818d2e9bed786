// Package session tracks per-instance activity records that survive
// disconnects, with flat-file snapshot persistence and retention purging.
package session
