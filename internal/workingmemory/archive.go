package workingmemory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentmemory/internal/model"
	"agentmemory/internal/objectstore"
)

// S3Archiver persists evicted WorkingMemory blobs to an objectstore.ObjectStore
// (S3-compatible) so operators can recover a session's last known state after
// an explicit delete, per SPEC_FULL.md's C4 expansion. RedisStore calls it
// only from Delete; sessions that expire through their TTL are not archived.
type S3Archiver struct {
	store  objectstore.ObjectStore
	prefix string
}

// NewS3Archiver wraps an already-configured ObjectStore.
func NewS3Archiver(store objectstore.ObjectStore, prefix string) *S3Archiver {
	return &S3Archiver{store: store, prefix: prefix}
}

func (a *S3Archiver) Archive(ctx context.Context, namespace, sessionID string, wm model.WorkingMemory) error {
	if a == nil || a.store == nil {
		return nil
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("marshal archived working memory: %w", err)
	}
	key := fmt.Sprintf("%sworking-memory/%s/%s/%d.json", a.prefix, namespace, sessionID, time.Now().UTC().UnixNano())
	_, err = a.store.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"})
	return err
}
