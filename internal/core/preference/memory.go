package preference

import (
	"context"
	"sort"
	"sync"
	"time"
)

// entry 單一鍵的資料，各自持有鎖；rec 為 nil 表示不存在
type entry struct {
	mu  sync.Mutex
	rec *Record
}

// MemoryStore 記憶體儲存，不同鍵之間只在 map 查詢時短暫競爭
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore 創建記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func entryID(userID, key string) string {
	return userID + "\x1f" + key
}

// lookup 取得 entry，create 為 true 時不存在就建立
func (s *MemoryStore) lookup(userID, key string, create bool) *entry {
	id := entryID(userID, key)

	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[id]; !ok {
		e = &entry{}
		s.entries[id] = e
	}
	return e
}

func (s *MemoryStore) Get(ctx context.Context, userID, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(userID, key, false)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, ErrNotFound
	}
	return cloneRecord(e.rec), nil
}

func (s *MemoryStore) UpsertPrimary(ctx context.Context, userID, key string, p Primary) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePrimary(p); err != nil {
		return nil, err
	}

	e := s.lookup(userID, key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		e.rec = &Record{
			UserID:             userID,
			Key:                key,
			FallbackStockcodes: []int64{},
			AddedAt:            s.now(),
		}
	}
	e.rec.OriginalName = p.OriginalName
	e.rec.PrimaryStockcode = p.Stockcode
	e.rec.ProductName = p.ProductName
	e.rec.LastKnownPrice = p.Price
	e.rec.ImageURL = p.ImageURL
	e.rec.FallbackStockcodes = withoutCode(e.rec.FallbackStockcodes, p.Stockcode)

	return cloneRecord(e.rec), nil
}

func (s *MemoryStore) SetFallbacks(ctx context.Context, userID, key string, codes []int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(userID, key, false)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, ErrNotFound
	}
	if err := ValidateFallbacks(e.rec.PrimaryStockcode, codes); err != nil {
		return nil, err
	}
	e.rec.FallbackStockcodes = append([]int64{}, codes...)
	return cloneRecord(e.rec), nil
}

func (s *MemoryStore) AppendFallback(ctx context.Context, userID, key string, code int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateFallbacks(0, []int64{code}); err != nil {
		return nil, err
	}
	e := s.lookup(userID, key, false)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return nil, ErrNotFound
	}
	if code != e.rec.PrimaryStockcode && !containsCode(e.rec.FallbackStockcodes, code) {
		e.rec.FallbackStockcodes = append(e.rec.FallbackStockcodes, code)
	}
	return cloneRecord(e.rec), nil
}

func (s *MemoryStore) RecordUsage(ctx context.Context, userID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := s.lookup(userID, key, false)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return ErrNotFound
	}
	now := s.now()
	if now.Before(e.rec.AddedAt) {
		now = e.rec.AddedAt
	}
	e.rec.UseCount++
	e.rec.LastUsedAt = &now
	return nil
}

// Remove 空的 entry 保留在 map 中，避免與持有同一 entry 的寫入競爭
func (s *MemoryStore) Remove(ctx context.Context, userID, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e := s.lookup(userID, key, false)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.rec != nil
	e.rec = nil
	return removed, nil
}

func (s *MemoryStore) ListAll(ctx context.Context, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	records := make([]Record, 0)
	for _, e := range candidates {
		e.mu.Lock()
		if e.rec != nil && e.rec.UserID == userID {
			records = append(records, *cloneRecord(e.rec))
		}
		e.mu.Unlock()
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortRecords 依 added_at 升冪，相同時依 key
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].AddedAt.Equal(records[j].AddedAt) {
			return records[i].AddedAt.Before(records[j].AddedAt)
		}
		return records[i].Key < records[j].Key
	})
}
