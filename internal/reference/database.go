// Package reference holds the read-only catalog of known-authentic medicines.
package reference

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/medverify/internal/domain"
)

// Database is an immutable, id-ordered set of reference medicines. All methods are safe
// for concurrent use because nothing mutates it after construction.
type Database struct {
	medicines []domain.ReferenceMedicine
	byID      map[string]int
}

// NewDatabase validates and copies the given medicines.
func NewDatabase(medicines []domain.ReferenceMedicine) (*Database, error) {
	db := &Database{
		medicines: make([]domain.ReferenceMedicine, 0, len(medicines)),
		byID:      make(map[string]int, len(medicines)),
	}
	for _, m := range medicines {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := db.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate reference medicine id %q", m.ID)
		}
		db.byID[m.ID] = -1
		db.medicines = append(db.medicines, m.Clone())
	}
	sort.Slice(db.medicines, func(i, j int) bool {
		return db.medicines[i].ID < db.medicines[j].ID
	})
	for i, m := range db.medicines {
		db.byID[m.ID] = i
	}
	return db, nil
}

// Len returns the number of medicines.
func (db *Database) Len() int {
	return len(db.medicines)
}

// At returns the medicine at position i in id order. The returned value shares no
// memory with the database.
func (db *Database) At(i int) domain.ReferenceMedicine {
	return db.medicines[i].Clone()
}

// Each calls fn for every medicine in ascending id order without copying. fn must not
// retain or modify the pointer.
func (db *Database) Each(fn func(m *domain.ReferenceMedicine) bool) {
	for i := range db.medicines {
		if !fn(&db.medicines[i]) {
			return
		}
	}
}

// All returns a copy of every medicine in id order.
func (db *Database) All() []domain.ReferenceMedicine {
	out := make([]domain.ReferenceMedicine, len(db.medicines))
	for i, m := range db.medicines {
		out[i] = m.Clone()
	}
	return out
}

// Get looks a medicine up by id.
func (db *Database) Get(id string) (domain.ReferenceMedicine, error) {
	i, ok := db.byID[id]
	if !ok {
		return domain.ReferenceMedicine{}, domain.ErrMedicineNotFound
	}
	return db.medicines[i].Clone(), nil
}

// Search returns medicines whose name, manufacturer or batch number contains query,
// case-insensitively. An empty query returns everything.
func (db *Database) Search(query string) []domain.ReferenceMedicine {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return db.All()
	}
	var out []domain.ReferenceMedicine
	for _, m := range db.medicines {
		if strings.Contains(strings.ToLower(m.Name), query) ||
			strings.Contains(strings.ToLower(m.Manufacturer), query) ||
			strings.Contains(strings.ToLower(m.BatchNumber), query) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Resolve returns the id of the medicine a QR payload points at.
func (db *Database) Resolve(payload string) (string, bool) {
	for _, m := range db.medicines {
		if m.ResolvesPayload(payload) {
			return m.ID, true
		}
	}
	return "", false
}
