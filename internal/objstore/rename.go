package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrSourceRetained means the copy landed and was verified but deleting
// the source failed. The destination is good; the leftover source is a
// cleanup chore, not a data problem.
var ErrSourceRetained = errors.New("objstore: destination written, source not deleted")

// Renamer moves a blob with copy, verify, delete. Object stores have no
// atomic rename, so each stage is checked before the source is touched.
type Renamer struct {
	store Store
}

func NewRenamer(s Store) *Renamer { return &Renamer{store: s} }

// Rename copies src to dst, verifies dst exists, then deletes src.
// On copy or verify failure the source is untouched. On delete failure
// the returned error wraps ErrSourceRetained.
func (r *Renamer) Rename(ctx context.Context, srcKey, dstKey string) error {
	ok, err := r.store.Exists(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("rename %s: check source: %w", srcKey, err)
	}
	if !ok {
		return fmt.Errorf("rename %s: source missing", srcKey)
	}
	if err := r.store.Copy(ctx, srcKey, dstKey); err != nil {
		return fmt.Errorf("rename %s -> %s: copy: %w", srcKey, dstKey, err)
	}
	ok, err = r.store.Exists(ctx, dstKey)
	if err != nil || !ok {
		if err == nil {
			err = errors.New("destination missing after copy")
		}
		return fmt.Errorf("rename %s -> %s: verify: %w", srcKey, dstKey, err)
	}
	if err := r.store.Delete(ctx, srcKey); err != nil {
		return fmt.Errorf("rename %s -> %s: %w: %v", srcKey, dstKey, ErrSourceRetained, err)
	}
	return nil
}

// Cleanup deletes a leftover source. Idempotent: a missing key is success.
func (r *Renamer) Cleanup(ctx context.Context, srcKey string) error {
	ok, err := r.store.Exists(ctx, srcKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return r.store.Delete(ctx, srcKey)
}
