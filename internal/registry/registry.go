// Package registry stores asset collections and the records of minted
// unique assets.
package registry

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/ledger"
	"GameLedger/internal/pool"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Record is a live minted asset.
type Record struct {
	Collection string         `json:"collection"`
	ID         uint64         `json:"id"`
	Owner      ledger.Address `json:"owner"`
	Creator    ledger.Address `json:"creator"`
	Attributes
	MintedAt time.Time `json:"minted_at"`
}

// Collection groups assets that share one identifier pool. Pool ids are
// 1..capacity; direct mints use ids above capacity.
type Collection struct {
	Name        string
	Description string
	URI         string
	Creator     ledger.Address
	CreatedAt   time.Time

	pool         *pool.Pool
	records      map[uint64]*Record
	nextDirectID uint64
	minted       uint64
	burned       uint64
}

// Info is a read-only view of a collection.
type Info struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	URI            string         `json:"uri"`
	Creator        ledger.Address `json:"creator"`
	Capacity       uint64         `json:"capacity"`
	AvailableCount uint64         `json:"available_count"`
	Minted         uint64         `json:"minted"`
	Burned         uint64         `json:"burned"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Registry holds every collection. Not thread-safe.
type Registry struct {
	collections map[string]*Collection
}

func New() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// CheckCreate validates a new collection without adding it.
func (r *Registry) CheckCreate(name, uri string, capacity uint64) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, ok := r.collections[name]; ok {
		return apperr.WithMetadata(apperr.CodeCollectionExists, "collection already exists",
			map[string]string{"collection": name})
	}
	if capacity == 0 {
		return apperr.New(apperr.CodeInvalidArgument, "pool capacity must be positive")
	}
	if capacity > pool.MaxCapacity {
		return apperr.WithMetadata(apperr.CodeInvalidArgument, "pool capacity too large",
			map[string]string{"max": strconv.Itoa(pool.MaxCapacity)})
	}
	if uri != "" {
		return ValidateURI(uri)
	}
	return nil
}

// Create adds a collection with a fresh pool.
func (r *Registry) Create(name, description, uri string, creator ledger.Address, capacity uint64, at time.Time) error {
	if err := r.CheckCreate(name, uri, capacity); err != nil {
		return err
	}
	p, err := pool.New(capacity)
	if err != nil {
		return err
	}
	r.collections[name] = &Collection{
		Name:         name,
		Description:  description,
		URI:          uri,
		Creator:      creator,
		CreatedAt:    at,
		pool:         p,
		records:      make(map[uint64]*Record),
		nextDirectID: capacity + 1,
	}
	return nil
}

// Collection looks up a collection by name.
func (r *Registry) Collection(name string) (*Collection, error) {
	c, ok := r.collections[name]
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeNotFound, "collection not found",
			map[string]string{"collection": name})
	}
	return c, nil
}

// Names returns collection names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for n := range r.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pool exposes the collection's identifier pool.
func (c *Collection) Pool() *pool.Pool {
	return c.pool
}

// NextDirectID is the id the next direct mint will receive.
func (c *Collection) NextDirectID() uint64 {
	return c.nextDirectID
}

func (c *Collection) Info() Info {
	return Info{
		Name:           c.Name,
		Description:    c.Description,
		URI:            c.URI,
		Creator:        c.Creator,
		Capacity:       c.pool.Capacity(),
		AvailableCount: c.pool.AvailableCount(),
		Minted:         c.minted,
		Burned:         c.burned,
		CreatedAt:      c.CreatedAt,
	}
}

// ResolveAttributes fills a blank name and URI from the collection:
// "<collection> #<id>" and "<collection uri>/<id>.json".
func (c *Collection) ResolveAttributes(id uint64, a Attributes) Attributes {
	if a.Name == "" {
		a.Name = fmt.Sprintf("%s #%d", c.Name, id)
	}
	if a.URI == "" && c.URI != "" {
		a.URI = fmt.Sprintf("%s/%d.json", c.URI, id)
	}
	return a
}

func notFound(collection string, id uint64) error {
	return apperr.WithMetadata(apperr.CodeNotFound, "asset not found", map[string]string{
		"collection": collection,
		"asset_id":   strconv.FormatUint(id, 10),
	})
}

// Record returns the live record for id. Never-minted and burned ids are
// both NOT_FOUND.
func (c *Collection) Record(id uint64) (*Record, error) {
	rec, ok := c.records[id]
	if !ok {
		return nil, notFound(c.Name, id)
	}
	return rec, nil
}

// OwnerOf returns the current owner of id.
func (c *Collection) OwnerOf(id uint64) (ledger.Address, error) {
	rec, err := c.Record(id)
	if err != nil {
		return "", err
	}
	return rec.Owner, nil
}

// AttributesOf returns the immutable attributes of id.
func (c *Collection) AttributesOf(id uint64) (Attributes, error) {
	rec, err := c.Record(id)
	if err != nil {
		return Attributes{}, err
	}
	return rec.Attributes, nil
}

// CheckTransfer verifies from owns a live id.
func (c *Collection) CheckTransfer(from ledger.Address, id uint64) (*Record, error) {
	rec, err := c.Record(id)
	if err != nil {
		return nil, err
	}
	if rec.Owner != from {
		return nil, apperr.WithMetadata(apperr.CodeNotOwner, "caller does not own asset", map[string]string{
			"collection": c.Name,
			"asset_id":   strconv.FormatUint(id, 10),
		})
	}
	return rec, nil
}

// PutRecord stores a newly minted asset. Pool ids must already be taken
// from the pool; direct ids advance the direct counter.
func (c *Collection) PutRecord(rec *Record) error {
	if _, exists := c.records[rec.ID]; exists {
		return fmt.Errorf("asset %d already exists in %s", rec.ID, c.Name)
	}
	if rec.ID == 0 {
		return fmt.Errorf("asset id 0 is reserved")
	}
	if rec.ID <= c.pool.Capacity() {
		if !c.pool.IsUsed(rec.ID) {
			return fmt.Errorf("asset %d minted before allocation", rec.ID)
		}
	} else if rec.ID >= c.nextDirectID {
		c.nextDirectID = rec.ID + 1
	}
	c.records[rec.ID] = rec
	c.minted++
	return nil
}

// SetOwner moves a live record to a new owner.
func (c *Collection) SetOwner(id uint64, to ledger.Address) error {
	rec, err := c.Record(id)
	if err != nil {
		return err
	}
	rec.Owner = to
	return nil
}

// DeleteRecord removes a burned asset. The id is never reissued.
func (c *Collection) DeleteRecord(id uint64) error {
	if _, err := c.Record(id); err != nil {
		return err
	}
	delete(c.records, id)
	c.burned++
	return nil
}

// RecordsOwnedBy lists live records of owner sorted by id.
func (c *Collection) RecordsOwnedBy(owner ledger.Address) []Record {
	var out []Record
	for _, rec := range c.records {
		if rec.Owner == owner {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CollectionSnapshot is the serializable state of one collection.
type CollectionSnapshot struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	URI          string         `json:"uri"`
	Creator      ledger.Address `json:"creator"`
	CreatedAt    time.Time      `json:"created_at"`
	Pool         pool.Snapshot  `json:"pool"`
	Records      []Record       `json:"records"`
	NextDirectID uint64         `json:"next_direct_id"`
	Minted       uint64         `json:"minted"`
	Burned       uint64         `json:"burned"`
}

// Snapshot captures every collection in name order.
func (r *Registry) Snapshot() []CollectionSnapshot {
	out := make([]CollectionSnapshot, 0, len(r.collections))
	for _, name := range r.Names() {
		c := r.collections[name]
		records := make([]Record, 0, len(c.records))
		for _, rec := range c.records {
			records = append(records, *rec)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		out = append(out, CollectionSnapshot{
			Name:         c.Name,
			Description:  c.Description,
			URI:          c.URI,
			Creator:      c.Creator,
			CreatedAt:    c.CreatedAt,
			Pool:         c.pool.Snapshot(),
			Records:      records,
			NextDirectID: c.nextDirectID,
			Minted:       c.minted,
			Burned:       c.burned,
		})
	}
	return out
}

// Restore replaces all collections with snapshot contents.
func (r *Registry) Restore(snaps []CollectionSnapshot) error {
	collections := make(map[string]*Collection, len(snaps))
	for _, s := range snaps {
		p, err := pool.Restore(s.Pool)
		if err != nil {
			return fmt.Errorf("collection %s: %w", s.Name, err)
		}
		c := &Collection{
			Name:         s.Name,
			Description:  s.Description,
			URI:          s.URI,
			Creator:      s.Creator,
			CreatedAt:    s.CreatedAt,
			pool:         p,
			records:      make(map[uint64]*Record, len(s.Records)),
			nextDirectID: s.NextDirectID,
			minted:       s.Minted,
			burned:       s.Burned,
		}
		for i := range s.Records {
			rec := s.Records[i]
			c.records[rec.ID] = &rec
		}
		collections[s.Name] = c
	}
	r.collections = collections
	return nil
}
