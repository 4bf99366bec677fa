package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/repository"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory record store covering every store interface of the package.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*domain.ImageRecord
	tags    map[int64][]string

	failCreate     bool
	failCaptioned  bool
	failReady      bool
	captionedCalls int
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]*domain.ImageRecord{}, tags: map[int64][]string{}}
}

func (m *memStore) put(id int64, status domain.ImageStatus, caption string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &domain.ImageRecord{
		ID:          id,
		OriginalURL: fmt.Sprintf("https://img.example.com/%d.jpg", id),
		Width:       300,
		Height:      300,
		Status:      status,
	}
	if caption != "" {
		c := caption
		rec.Caption = &c
	}
	m.records[id] = rec
	if len(tags) > 0 {
		m.tags[id] = tags
	}
	if id > m.nextID {
		m.nextID = id
	}
}

func (m *memStore) status(id int64) domain.ImageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

func (m *memStore) Create(ctx context.Context, c domain.Candidate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return 0, errInjected
	}
	m.nextID++
	m.records[m.nextID] = &domain.ImageRecord{
		ID:          m.nextID,
		OriginalURL: c.OriginalURL,
		SrcURL:      c.SrcURL,
		Width:       c.Width,
		Height:      c.Height,
		Status:      domain.StatusPending,
	}
	return m.nextID, nil
}

func (m *memStore) ExistingURLs(ctx context.Context, includeDeleted bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urls []string
	for _, rec := range m.records {
		if rec.Status == domain.StatusDeleted && !includeDeleted {
			continue
		}
		urls = append(urls, rec.OriginalURL)
	}
	return urls, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status domain.ImageStatus) ([]domain.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ImageRecord
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AdvanceToCaptioned(ctx context.Context, items []domain.CaptionedItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captionedCalls++
	if m.failCaptioned {
		return 0, errInjected
	}
	var n int64
	for _, item := range items {
		rec, ok := m.records[item.ImageID]
		if !ok || rec.Status != domain.StatusPending {
			continue
		}
		c := item.Caption
		rec.Caption = &c
		rec.Status = domain.StatusCaptioned
		m.tags[item.ImageID] = item.Tags
		n++
	}
	return n, nil
}

func (m *memStore) AdvanceToReady(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReady {
		return 0, errInjected
	}
	var n int64
	for _, id := range ids {
		if rec, ok := m.records[id]; ok && rec.Status == domain.StatusCaptioned {
			rec.Status = domain.StatusReady
			n++
		}
	}
	return n, nil
}

func (m *memStore) TagsFor(ctx context.Context, ids []int64) (map[int64][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64][]string, len(ids))
	for _, id := range ids {
		if t, ok := m.tags[id]; ok {
			out[id] = append([]string(nil), t...)
		}
	}
	return out, nil
}

func (m *memStore) GetByIDs(ctx context.Context, ids []int64) ([]domain.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ImageRecord
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) ListTags(ctx context.Context) ([]domain.Tag, error) {
	tags := make([]domain.Tag, len(domain.TagVocabulary))
	for i, name := range domain.TagVocabulary {
		tags[i] = domain.Tag{ID: int64(i + 1), Name: name}
	}
	return tags, nil
}

func (m *memStore) ReadyForExport(ctx context.Context) ([]domain.ImageRecord, error) {
	recs, _ := m.ListByStatus(ctx, domain.StatusReady)
	tags, _ := m.TagsFor(ctx, idsOf(recs))
	for i := range recs {
		recs[i].Tags = tags[recs[i].ID]
	}
	return recs, nil
}

func (m *memStore) ListPublishable(ctx context.Context) ([]domain.ImageRecord, error) {
	recs, _ := m.ListByStatus(ctx, domain.StatusReady)
	out := recs[:0]
	for _, rec := range recs {
		if rec.CloudURL == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) SetCloudURL(ctx context.Context, id int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := url
	m.records[id].CloudURL = &u
	return nil
}

func (m *memStore) SoftDelete(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if rec, ok := m.records[id]; ok && rec.Status != domain.StatusDeleted {
			rec.Status = domain.StatusDeleted
			n++
		}
	}
	return n, nil
}

func idsOf(recs []domain.ImageRecord) []int64 {
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

// memContent is an in-memory ContentStore and LocalContent.
type memContent struct {
	mu   sync.Mutex
	data map[int64][]byte
}

func newMemContent(ids ...int64) *memContent {
	c := &memContent{data: map[int64][]byte{}}
	for _, id := range ids {
		c.data[id] = []byte{0xFF, 0xD8, byte(id)}
	}
	return c
}

func (c *memContent) Read(id int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[id]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", id, domain.ErrContentMissing)
	}
	return d, nil
}

func (c *memContent) Exists(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[id]
	return ok
}

func (c *memContent) Write(id int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = data
	return nil
}

// fakeIndex is an in-memory VectorIndex.
type fakeIndex struct {
	mu         sync.Mutex
	points     map[int64]repository.VectorPoint
	failFor    map[int64]bool
	searchHits []repository.VectorHit
	searchErr  error
	lastK      int
	lastFilter *repository.VectorFilter
	deleted    []int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: map[int64]repository.VectorPoint{}, failFor: map[int64]bool{}}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, points []repository.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range points {
		if f.failFor[p.ImageID] {
			return fmt.Errorf("upsert %d: %w", p.ImageID, errInjected)
		}
	}
	for _, p := range points {
		f.points[p.ImageID] = p
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int, filter *repository.VectorFilter) ([]repository.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastK = k
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHits, nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeIndex) Close() error { return nil }

// fakeProvider returns a fixed non-zero vector per text, or fails.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failures int // number of leading calls that fail
	zero     bool
	lastTask EmbeddingTask
	texts    []string
}

func (p *fakeProvider) Embed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastTask = task
	p.texts = append(p.texts, texts...)
	if p.calls <= p.failures {
		return nil, errInjected
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		if p.zero {
			out[i] = []float32{0, 0, 0}
		} else {
			out[i] = []float32{3, 4, 0}
		}
	}
	return out, nil
}

func (p *fakeProvider) Dimensions() int { return 3 }
func (p *fakeProvider) Model() string   { return "fake" }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
