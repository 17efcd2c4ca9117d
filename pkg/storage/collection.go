package storage

import (
	"sort"
	"sync"
)

// Record is a flat CRUD entity with an int64 identity.
type Record[T any] interface {
	RecordID() int64
	WithID(id int64) T
}

// Collection is the CRUD surface of the data store for one flat entity type
// (donations, expenses, equipment, certificates, branches, remittances).
type Collection[T Record[T]] interface {
	List() ([]T, error)
	Get(id int64) (T, error)
	Create(item T) (T, error)
	Update(item T) error
	Delete(id int64) error
}

type memoryCollection[T Record[T]] struct {
	mu     sync.RWMutex
	items  map[int64]T
	nextID int64
}

// NewMemoryCollection returns an empty in-memory Collection.
func NewMemoryCollection[T Record[T]]() Collection[T] {
	return &memoryCollection[T]{items: make(map[int64]T)}
}

// List returns all items ordered by ID.
func (c *memoryCollection[T]) List() ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := make([]T, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RecordID() < items[j].RecordID() })
	return items, nil
}

func (c *memoryCollection[T]) Get(id int64) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return item, nil
}

// Create assigns the next ID and stores the item.
func (c *memoryCollection[T]) Create(item T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	item = item.WithID(c.nextID)
	c.items[c.nextID] = item
	return item, nil
}

func (c *memoryCollection[T]) Update(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[item.RecordID()]; !ok {
		return ErrNotFound
	}
	c.items[item.RecordID()] = item
	return nil
}

func (c *memoryCollection[T]) Delete(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return ErrNotFound
	}
	delete(c.items, id)
	return nil
}
