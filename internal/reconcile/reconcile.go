package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
	"github.com/bbernstein/bicyclette/backend-go/internal/store"
)

// DefaultRetireAfter is how many consecutive absences a station survives.
const DefaultRetireAfter = 1

type Reason string

const (
	ReasonOutsideLimit Reason = "outside_limit"
	ReasonDuplicate    Reason = "duplicate"
	ReasonInvalid      Reason = "invalid"
)

// Rejection records why a fetched record was not merged.
type Rejection struct {
	Number string
	Reason Reason
}

// MergeResult tallies what one merge did to the working graph.
type MergeResult struct {
	Created    int
	Updated    int
	Unchanged  int
	Retired    int
	Stale      int
	Rejections []Rejection
	// ChangedNumbers lists created and updated stations, sorted.
	ChangedNumbers []string
}

// Changed is the number of stations created or updated from fetched data.
func (r MergeResult) Changed() int {
	return r.Created + r.Updated
}

func (r MergeResult) Rejected() int {
	return len(r.Rejections)
}

// DataChanged reports whether the merge altered any station or retired one.
func (r MergeResult) DataChanged() bool {
	return r.Changed() > 0 || r.Retired > 0
}

type Options struct {
	// RetireAfter is the number of consecutive absent fetches a station is
	// kept for. It is deleted on the next one.
	RetireAfter int
	// Grouper assigns each station its region key. Nil leaves keys empty.
	Grouper geo.Grouper
	Now     func() time.Time
}

func DefaultOptions() Options {
	return Options{
		RetireAfter: DefaultRetireAfter,
		Grouper:     geo.GridGrouper{CellDegrees: geo.DefaultCellDegrees},
		Now:         time.Now,
	}
}

// Reconciler merges fetched records into a store transaction. It is the only
// component that mutates the store.
type Reconciler struct {
	limit models.OuterLimit
	opts  Options
}

func New(limit models.OuterLimit, opts Options) *Reconciler {
	if opts.RetireAfter < 0 {
		opts.RetireAfter = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{limit: limit, opts: opts}
}

func (r *Reconciler) Limit() models.OuterLimit {
	return r.limit
}

// Merge applies the records to tx. Records outside the outer limit, with an
// invalid station, or repeating a number already seen in this batch are
// rejected and counted. Stations missing from records are flagged stale and
// eventually retired. Errors from tx are returned as *PersistenceError.
func (r *Reconciler) Merge(tx store.Tx, records []models.RawStation) (MergeResult, error) {
	var result MergeResult
	now := r.opts.Now().UTC()
	// seen holds every number met in this batch, merged only the accepted ones
	seen := make(map[string]struct{}, len(records))
	merged := make(map[string]struct{}, len(records))

	for _, rec := range records {
		if _, dup := seen[rec.Number]; dup {
			result.reject(rec.Number, ReasonDuplicate)
			continue
		}
		seen[rec.Number] = struct{}{}
		if !geo.WithinLimit(r.limit, rec.Coordinate()) {
			result.reject(rec.Number, ReasonOutsideLimit)
			continue
		}
		incoming := r.stationFrom(rec)
		if err := incoming.Validate(); err != nil {
			result.reject(rec.Number, ReasonInvalid)
			continue
		}
		merged[rec.Number] = struct{}{}

		existing, found := tx.Find(rec.Number)
		if !found {
			incoming.UpdatedAt = now
			if err := tx.Create(incoming); err != nil {
				return result, NewPersistenceError("creating station "+rec.Number, err)
			}
			result.Created++
			result.ChangedNumbers = append(result.ChangedNumbers, rec.Number)
			continue
		}

		updated, changed := mergeFields(existing, incoming)
		if !changed {
			result.Unchanged++
			continue
		}
		updated.UpdatedAt = now
		if err := tx.Update(updated); err != nil {
			return result, NewPersistenceError("updating station "+rec.Number, err)
		}
		result.Updated++
		result.ChangedNumbers = append(result.ChangedNumbers, rec.Number)
	}

	if err := r.retire(tx, merged, &result); err != nil {
		return result, err
	}

	sort.Strings(result.ChangedNumbers)
	return result, nil
}

func (r *Reconciler) retire(tx store.Tx, merged map[string]struct{}, result *MergeResult) error {
	for _, s := range tx.Stations() {
		if _, ok := merged[s.Number]; ok {
			continue
		}
		s.MissedFetches++
		if s.MissedFetches > r.opts.RetireAfter {
			if err := tx.Delete(s.Number); err != nil {
				return NewPersistenceError("retiring station "+s.Number, err)
			}
			log.Debug().Str("station_number", s.Number).Int("missed", s.MissedFetches).Msg("Retired station")
			result.Retired++
			continue
		}
		if err := tx.Update(s); err != nil {
			return NewPersistenceError("flagging station "+s.Number, err)
		}
		result.Stale++
	}
	return nil
}

func (r *Reconciler) stationFrom(rec models.RawStation) models.Station {
	s := models.Station{
		Number:    rec.Number,
		Name:      rec.Name,
		Address:   rec.Address,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Capacity:  rec.Capacity,
		Available: rec.Available,
		Free:      rec.Free,
		Status:    rec.Status,
	}
	if s.Status == "" {
		s.Status = models.StatusUnknown
	}
	if r.opts.Grouper != nil {
		s.RegionKey = r.opts.Grouper.Key(s)
	}
	return s
}

// mergeFields copies the fetched fields that differ onto existing. A station
// that had been flagged stale counts as changed when it comes back.
func mergeFields(existing, incoming models.Station) (models.Station, bool) {
	changed := false
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setInt := func(dst *int, v int) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setFloat := func(dst *float64, v float64) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	set(&existing.Name, incoming.Name)
	set(&existing.Address, incoming.Address)
	setFloat(&existing.Latitude, incoming.Latitude)
	setFloat(&existing.Longitude, incoming.Longitude)
	setInt(&existing.Capacity, incoming.Capacity)
	setInt(&existing.Available, incoming.Available)
	setInt(&existing.Free, incoming.Free)
	if existing.Status != incoming.Status {
		existing.Status = incoming.Status
		changed = true
	}
	set(&existing.RegionKey, incoming.RegionKey)
	setInt(&existing.MissedFetches, 0)

	return existing, changed
}

func (r *MergeResult) reject(number string, reason Reason) {
	r.Rejections = append(r.Rejections, Rejection{Number: number, Reason: reason})
	log.Debug().Str("station_number", number).Str("reason", string(reason)).Msg("Rejected station record")
}

// Commit saves tx, rolling it back on failure so the committed graph is
// left as it was before the cycle.
func Commit(ctx context.Context, tx store.Tx) error {
	if err := tx.Save(ctx); err != nil {
		tx.Rollback()
		return NewPersistenceError("saving station graph", err)
	}
	return nil
}
