package saga

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/jsoncodec"
)

// Repository stores saga instances by correlation id.
//
// Insert must fail with an error matching errors.ErrDuplicateSaga when the id
// is taken. Update must fail with errors.ErrSagaConcurrency when the stored
// instance changed since it was loaded.
type Repository[S Saga] interface {
	Load(ctx context.Context, id uuid.UUID) (S, bool, error)
	Insert(ctx context.Context, instance S) error
	Update(ctx context.Context, instance S) error
	Delete(ctx context.Context, instance S) error
}

type snapshot struct {
	data    []byte
	version int64
}

// InMemoryRepository keeps JSON snapshots of instances in a map. Loaded
// instances never alias stored state.
type InMemoryRepository[S Saga] struct {
	mu    sync.Mutex
	items map[uuid.UUID]snapshot
}

func NewInMemoryRepository[S Saga]() *InMemoryRepository[S] {
	return &InMemoryRepository[S]{items: make(map[uuid.UUID]snapshot)}
}

func (r *InMemoryRepository[S]) Load(ctx context.Context, id uuid.UUID) (S, bool, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	r.mu.Lock()
	snap, ok := r.items[id]
	r.mu.Unlock()
	if !ok {
		return zero, false, nil
	}
	instance, err := decodeInstance[S](snap.data)
	if err != nil {
		return zero, false, err
	}
	setVersion(instance, snap.version)
	return instance, true, nil
}

func (r *InMemoryRepository[S]) Insert(ctx context.Context, instance S) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	setVersion(instance, 1)
	data, err := jsoncodec.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode saga: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := instance.CorrelationID()
	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateSaga, id)
	}
	r.items[id] = snapshot{data: data, version: 1}
	return nil
}

func (r *InMemoryRepository[S]) Update(ctx context.Context, instance S) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := instance.CorrelationID()
	current, exists := r.items[id]
	if !exists {
		return fmt.Errorf("%w: %s was removed", errspkg.ErrSagaConcurrency, id)
	}
	if v, ok := any(instance).(Versioned); ok && v.Version() != current.version {
		return fmt.Errorf("%w: %s expected version %d, stored %d",
			errspkg.ErrSagaConcurrency, id, v.Version(), current.version)
	}

	next := current.version + 1
	setVersion(instance, next)
	data, err := jsoncodec.Marshal(instance)
	if err != nil {
		setVersion(instance, current.version)
		return fmt.Errorf("encode saga: %w", err)
	}
	r.items[id] = snapshot{data: data, version: next}
	return nil
}

func (r *InMemoryRepository[S]) Delete(ctx context.Context, instance S) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.items, instance.CorrelationID())
	r.mu.Unlock()
	return nil
}

// Len reports the number of stored instances.
func (r *InMemoryRepository[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func setVersion[S Saga](instance S, version int64) {
	if v, ok := any(instance).(Versioned); ok {
		v.SetVersion(version)
	}
}

func decodeInstance[S Saga](data []byte) (S, error) {
	instance, err := jsoncodec.UnmarshalAs[S](data)
	if err != nil {
		return instance, fmt.Errorf("decode saga: %w", err)
	}
	return instance, nil
}
