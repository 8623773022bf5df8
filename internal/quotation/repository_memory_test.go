package quotation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	headers map[int64]Header
	offers  map[int64]Offer
	items   map[int64]Item
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		headers: make(map[int64]Header),
		offers:  make(map[int64]Offer),
		items:   make(map[int64]Item),
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) CreateHeader(_ context.Context, h Header) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.headers {
		if existing.Number == h.Number {
			return 0, numbering.ErrNumberTaken
		}
	}
	h.ID = m.id()
	h.UpdatedAt = h.CreatedAt
	h.SelectedOfferItemIDs = []int64{}
	h.Progress = []ProgressEntry{}
	m.headers[h.ID] = h
	return h.ID, nil
}

func (m *memoryRepo) GetHeader(_ context.Context, id int64) (*Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[id]
	if !ok {
		return nil, shared.NotFoundf("quotation %d", id)
	}
	h.Progress = append([]ProgressEntry(nil), h.Progress...)
	return &h, nil
}

func (m *memoryRepo) GetHeaderByNumber(_ context.Context, number string) (*Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.headers {
		if h.Number == number {
			return &h, nil
		}
	}
	return nil, shared.NotFoundf("quotation %s", number)
}

func (m *memoryRepo) ListHeaders(_ context.Context, f ListFilter) ([]Header, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Header
	for _, h := range m.headers {
		if !f.ViewAll && h.RequesterID != f.ActorID && h.ApproverID != f.ActorID && h.CreatorID != f.ActorID {
			continue
		}
		if f.Status != nil && h.Status.Type != *f.Status {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) ListStale(_ context.Context, before time.Time, limit int) ([]Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Header
	for _, h := range m.headers {
		if h.Status.Type != StatusOpen {
			continue
		}
		if h.LastFollowUpDate == nil || !h.LastFollowUpDate.After(before) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, u StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.headers[id]
	h.Status = u.Status
	h.SelectedOfferID = u.SelectedOfferID
	h.SelectedOfferItemIDs = append([]int64{}, u.SelectedOfferItemIDs...)
	h.UpdatedAt = u.At
	m.headers[id] = h
	return nil
}

func (m *memoryRepo) TouchFollowUp(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.headers[id]
	h.LastFollowUpDate = &at
	m.headers[id] = h
	return nil
}

func (m *memoryRepo) AppendProgress(_ context.Context, id int64, entry ProgressEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.headers[id]
	h.Progress = append(append([]ProgressEntry(nil), h.Progress...), entry)
	m.headers[id] = h
	return nil
}

func (m *memoryRepo) DeleteHeader(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.headers, id)
	return nil
}

func (m *memoryRepo) CreateOffer(_ context.Context, o Offer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.offers {
		if existing.OfferNumber == o.OfferNumber {
			return 0, ErrOfferNumberTaken
		}
	}
	o.ID = m.id()
	o.NotesImages = append([]string{}, o.NotesImages...)
	m.offers[o.ID] = o
	return o.ID, nil
}

func (m *memoryRepo) GetOffer(_ context.Context, id int64) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, shared.NotFoundf("offer %d", id)
	}
	return &o, nil
}

func (m *memoryRepo) ListOffers(_ context.Context, headerID int64) ([]Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Offer
	for _, o := range m.offers {
		if o.HeaderID == headerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OfferNumberInQuotation != out[j].OfferNumberInQuotation {
			return out[i].OfferNumberInQuotation < out[j].OfferNumberInQuotation
		}
		return out[i].Revision < out[j].Revision
	})
	return out, nil
}

func (m *memoryRepo) MaxOfferSlot(_ context.Context, headerID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := 0
	for _, o := range m.offers {
		if o.HeaderID == headerID && o.Revision == 0 && o.OfferNumberInQuotation > highest {
			highest = o.OfferNumberInQuotation
		}
	}
	return highest, nil
}

func (m *memoryRepo) OfferNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.OfferNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) HasRevisions(_ context.Context, offerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.ParentOfferID != nil && *o.ParentOfferID == offerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) UpdateOffer(_ context.Context, id int64, notes string, images []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.offers[id]
	o.Notes = notes
	o.NotesImages = append([]string{}, images...)
	m.offers[id] = o
	return nil
}

func (m *memoryRepo) SaveTotals(_ context.Context, id int64, t Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.offers[id]
	o.Totals = t
	m.offers[id] = o
	return nil
}

func (m *memoryRepo) DeleteOffer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, id)
	for _, o := range m.offers {
		if o.ParentOfferID != nil && *o.ParentOfferID == id {
			o.ParentOfferID = nil
			m.offers[o.ID] = o
		}
	}
	return nil
}

func (m *memoryRepo) ListItems(_ context.Context, offerID int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.OfferID == offerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out, nil
}

func (m *memoryRepo) GetItem(_ context.Context, id int64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, shared.NotFoundf("offer item %d", id)
	}
	return &it, nil
}

func (m *memoryRepo) InsertItem(_ context.Context, it Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = m.id()
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *memoryRepo) UpdateItem(_ context.Context, it Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *memoryRepo) SetItemAcceptance(_ context.Context, id int64, a Acceptance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	it.IsAccepted, it.AcceptedAt, it.AcceptedBy = a.Accepted, a.At, a.By
	m.items[id] = it
	return nil
}

func (m *memoryRepo) SetItemNumber(_ context.Context, id int64, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	it.ItemNumber = number
	m.items[id] = it
	return nil
}

func (m *memoryRepo) DeleteItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memoryRepo) DeleteItemsByOffer(_ context.Context, offerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.OfferID == offerID {
			delete(m.items, id)
		}
	}
	return nil
}

// referenced reports whether any stored offer still lists ref.
func (m *memoryRepo) Referenced(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		for _, img := range o.NotesImages {
			if img == ref {
				return true, nil
			}
		}
	}
	return false, nil
}

type numberStore struct{ repo *memoryRepo }

func (s numberStore) ListNumbers(_ context.Context, _ numbering.DocType, suffix string) ([]string, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	var out []string
	for _, h := range s.repo.headers {
		if strings.HasSuffix(h.Number, suffix) {
			out = append(out, h.Number)
		}
	}
	return out, nil
}

func (s numberStore) Exists(_ context.Context, _ numbering.DocType, number string) (bool, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	for _, h := range s.repo.headers {
		if h.Number == number {
			return true, nil
		}
	}
	return false, nil
}
