// Package storage provides content blob storage for received CSV files.
// Keys are of the form ingestions/<epoch_ms>_<filename>; identical uploads
// are coalesced upstream by file hash, so stores are write-once.
package storage

import (
	"context"
	"fmt"
	"time"
)

// BlobStore stores and retrieves raw file bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// IngestionKey builds the blob key for a received file.
func IngestionKey(receivedAt time.Time, filename string) string {
	return fmt.Sprintf("ingestions/%d_%s", receivedAt.UnixMilli(), filename)
}
