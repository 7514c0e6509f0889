package city

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/geo"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
	"github.com/bbernstein/bicyclette/backend-go/internal/parser"
	"github.com/bbernstein/bicyclette/backend-go/internal/patch"
	"github.com/bbernstein/bicyclette/backend-go/internal/reconcile"
	"github.com/bbernstein/bicyclette/backend-go/internal/store"
)

type State string

const (
	Idle        State = "idle"
	Fetching    State = "fetching"
	Parsing     State = "parsing"
	Reconciling State = "reconciling"
	Committing  State = "committing"
	Succeeded   State = "succeeded"
	Failed      State = "failed"
)

// Fetcher retrieves the raw payload at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Config is fixed for the lifetime of a City.
type Config struct {
	Name    string
	Parser  parser.Parser
	Limit   models.OuterLimit
	Patches *patch.Table
	// RetireAfter is the number of consecutive absent fetches a station
	// survives. Nil means reconcile.DefaultRetireAfter.
	RetireAfter    *int
	Grouper        geo.Grouper
	QueryCacheSize int
	Now            func() time.Time
	// ServiceInfo is free-form metadata about the operator (name, website,
	// contact), returned as is by ServiceInfo.
	ServiceInfo map[string]string
}

// snapshot is an immutable view of the last committed graph.
type snapshot struct {
	generation uint64
	stations   map[string]models.Station
	sorted     []models.Station
	regions    []models.Region
	radars     []models.Radar
	bounds     models.Bounds
}

// City runs update cycles for one bike-sharing system and answers queries
// from the last committed data.
type City struct {
	name       string
	parser     parser.Parser
	patches    *patch.Table
	limit      models.OuterLimit
	grouper    geo.Grouper
	reconciler *reconcile.Reconciler
	fetcher    Fetcher
	store      store.Store
	urls       URLProvider
	titles     TitleProvider
	now        func() time.Time
	info       map[string]string

	mu         sync.Mutex
	state      State
	reloading  bool
	lastReport *CycleReport

	current  atomic.Pointer[snapshot]
	cache    *queryCache
	notifier *notifier
}

// New builds a City and loads the last committed graph from st.
func New(ctx context.Context, cfg Config, fetcher Fetcher, st store.Store, caps Capabilities) (*City, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("city %s: parser is required", cfg.Name)
	}
	if fetcher == nil || st == nil {
		return nil, fmt.Errorf("city %s: fetcher and store are required", cfg.Name)
	}
	if caps.URLs == nil {
		return nil, fmt.Errorf("city %s: URL provider is required", cfg.Name)
	}
	if cfg.Limit.RadiusKm <= 0 {
		return nil, fmt.Errorf("city %s: outer limit is required", cfg.Name)
	}
	if caps.Titles == nil {
		caps.Titles = DefaultTitles{CityName: cfg.Name}
	}
	if cfg.Grouper == nil {
		cfg.Grouper = geo.GridGrouper{CellDegrees: geo.DefaultCellDegrees}
	}
	if cfg.Patches == nil {
		cfg.Patches = patch.NewTable(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := reconcile.DefaultOptions()
	if cfg.RetireAfter != nil {
		opts.RetireAfter = *cfg.RetireAfter
	}
	opts.Grouper = cfg.Grouper
	opts.Now = cfg.Now

	cache, err := newQueryCache(cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}

	c := &City{
		name:       cfg.Name,
		parser:     cfg.Parser,
		patches:    cfg.Patches,
		limit:      cfg.Limit,
		grouper:    cfg.Grouper,
		reconciler: reconcile.New(cfg.Limit, opts),
		fetcher:    fetcher,
		store:      st,
		urls:       caps.URLs,
		titles:     caps.Titles,
		now:        cfg.Now,
		info:       maps.Clone(cfg.ServiceInfo),
		state:      Idle,
		cache:      cache,
		notifier:   newNotifier(),
	}

	g, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("city %s: %w", cfg.Name, err)
	}
	c.current.Store(c.buildSnapshot(0, g.SortedStations(), g.Regions))

	log.Info().
		Str("city", c.name).
		Str("dialect", cfg.Parser.Dialect().Name).
		Int("station_count", len(g.Stations)).
		Int("patch_count", cfg.Patches.Len()).
		Msg("City ready")
	return c, nil
}

// Subscribe registers h for lifecycle notifications. Handlers run on the
// updating goroutine. The returned func unsubscribes.
func (c *City) Subscribe(h Handler) func() {
	return c.notifier.subscribe(h)
}

// Update runs one cycle. It returns ErrUpdateInProgress if a cycle is
// already running, otherwise the error the cycle failed with, if any. Once
// started, the cycle is not cancelled by ctx.
func (c *City) Update(ctx context.Context) error {
	if !c.begin() {
		log.Debug().Str("city", c.name).Msg("Update rejected, cycle in progress")
		return ErrUpdateInProgress
	}
	return c.run(context.WithoutCancel(ctx))
}

func (c *City) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle || c.reloading {
		return false
	}
	c.state = Fetching
	return true
}

// refresher is implemented by stores that cache a graph written elsewhere
type refresher interface {
	Refresh(ctx context.Context) error
}

// Reload re-reads the committed graph from the store so queries see commits
// made by other processes. It returns ErrUpdateInProgress while a cycle runs.
func (c *City) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle || c.reloading {
		c.mu.Unlock()
		return ErrUpdateInProgress
	}
	c.reloading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reloading = false
		c.mu.Unlock()
	}()

	if r, ok := c.store.(refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return fmt.Errorf("city %s: %w", c.name, err)
		}
	}
	g, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("city %s: %w", c.name, err)
	}
	c.publish(g.SortedStations(), g.Regions)
	log.Debug().Str("city", c.name).Int("station_count", len(g.Stations)).Msg("Reloaded committed graph")
	return nil
}

func (c *City) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	log.Debug().Str("city", c.name).Str("state", string(s)).Msg("State changed")
}

func (c *City) run(ctx context.Context) (err error) {
	report := &CycleReport{City: c.name, StartedAt: c.now()}
	var tx store.Tx
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if tx != nil {
			tx.Rollback()
		}
		in := c.State()
		log.Error().Str("city", c.name).Str("state", string(in)).Interface("panic", r).Msg("Update panicked")
		err = c.fail(report, in, fmt.Errorf("update panicked in %s: %v", in, r))
	}()

	c.emit(UpdateBegan, nil, nil)

	url := c.urls.UpdateURL()
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return c.fail(report, Fetching, NewTransportError(url, "fetching station data", err))
	}
	report.Bytes = len(data)
	report.Fingerprint = strconv.FormatUint(xxhash.Sum64(data), 16)

	c.setState(Parsing)
	parsed, err := c.parser.Parse(data)
	if err != nil {
		return c.fail(report, Parsing, err)
	}
	report.Skipped = parsed.Skipped

	records := make([]models.RawStation, len(parsed.Records))
	for i, rec := range parsed.Records {
		records[i] = c.patches.Apply(rec)
	}

	c.setState(Reconciling)
	tx, err = c.store.Begin(ctx)
	if err != nil {
		return c.fail(report, Reconciling, reconcile.NewPersistenceError("opening transaction", err))
	}
	merge, err := c.reconciler.Merge(tx, records)
	if err != nil {
		tx.Rollback()
		return c.fail(report, Reconciling, err)
	}

	stations := tx.Stations()
	regions := c.regionsFor(stations)
	if !regionsEqual(regions, c.current.Load().regions) {
		if err := tx.SetRegions(regions); err != nil {
			tx.Rollback()
			return c.fail(report, Reconciling, reconcile.NewPersistenceError("storing regions", err))
		}
	}

	report.Created = merge.Created
	report.Updated = merge.Updated
	report.Changed = merge.Changed()
	report.Rejected = merge.Rejected() + parsed.Skipped
	report.Retired = merge.Retired
	report.Stale = merge.Stale
	report.DataChanged = merge.DataChanged()
	c.emit(UpdateGotNewData, map[string]interface{}{KeyDataChanged: report.Changed}, nil)

	c.setState(Committing)
	if err := reconcile.Commit(ctx, tx); err != nil {
		return c.fail(report, Committing, err)
	}
	c.publish(stations, regions)

	c.setState(Succeeded)
	report.Outcome = OutcomeSucceeded
	report.FinishedAt = c.now()
	c.recordReport(report)

	log.Info().
		Str("city", c.name).
		Int("changed", report.Changed).
		Int("rejected", report.Rejected).
		Int("retired", report.Retired).
		Dur("duration", report.Duration()).
		Msg("Update succeeded")
	c.emit(UpdateSucceeded, map[string]interface{}{
		KeyDataChanged: report.DataChanged,
		KeyChanged:     report.Changed,
		KeyRejected:    report.Rejected,
		KeyRetired:     report.Retired,
	}, report)
	c.setState(Idle)
	return nil
}

func (c *City) fail(report *CycleReport, in State, err error) error {
	c.setState(Failed)
	report.Outcome = OutcomeFailed
	report.FailedIn = in
	report.Error = err.Error()
	report.FinishedAt = c.now()
	c.recordReport(report)

	payload := map[string]interface{}{KeyFailureError: err}
	var persistErr *reconcile.PersistenceError
	if errors.As(err, &persistErr) {
		payload[KeySaveErrors] = []error{persistErr.Unwrap()}
	}

	log.Error().Err(err).Str("city", c.name).Str("state", string(in)).Msg("Update failed")
	c.emit(UpdateFailed, payload, report)
	c.setState(Idle)
	return err
}

func (c *City) recordReport(report *CycleReport) {
	r := *report
	c.mu.Lock()
	c.lastReport = &r
	c.mu.Unlock()
}

func (c *City) emit(kind EventKind, payload map[string]interface{}, report *CycleReport) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	var r *CycleReport
	if report != nil {
		copied := *report
		r = &copied
	}
	c.notifier.emit(Event{
		Kind:    kind,
		City:    c.name,
		Time:    c.now(),
		Payload: payload,
		Report:  r,
	})
}

// regionsFor groups stations and labels each region.
func (c *City) regionsFor(stations []models.Station) []models.Region {
	regions := geo.Regions(stations, c.grouper)
	for i := range regions {
		regions[i].Title = c.titles.RegionTitle(regions[i])
		regions[i].Subtitle = c.titles.RegionSubtitle(regions[i])
	}
	return regions
}

func regionsEqual(a, b []models.Region) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// publish swaps in a snapshot of the newly committed graph.
func (c *City) publish(stations []models.Station, regions []models.Region) {
	generation := c.current.Load().generation + 1
	c.current.Store(c.buildSnapshot(generation, stations, regions))
	c.cache.purge()
}

func (c *City) buildSnapshot(generation uint64, sorted []models.Station, regions []models.Region) *snapshot {
	snap := &snapshot{
		generation: generation,
		stations:   make(map[string]models.Station, len(sorted)),
		sorted:     sorted,
		regions:    regions,
		bounds:     geo.BoundingRegion(sorted),
	}
	for _, s := range sorted {
		snap.stations[s.Number] = s
	}

	titles := make(map[string]string, len(regions))
	for _, r := range regions {
		titles[r.Key] = r.Title
	}
	snap.radars = geo.Clusters(sorted, c.grouper)
	for i := range snap.radars {
		if title, ok := titles[snap.radars[i].RegionKey]; ok {
			snap.radars[i].Title = title
		} else {
			snap.radars[i].Title = snap.radars[i].RegionKey
		}
	}
	return snap
}

// Name returns the configured city name.
func (c *City) Name() string {
	return c.name
}

func (c *City) Title() string {
	return c.titles.Title()
}

// ServiceInfo returns a copy of the operator metadata. It is never nil.
func (c *City) ServiceInfo() map[string]string {
	info := make(map[string]string, len(c.info))
	for k, v := range c.info {
		info[k] = v
	}
	return info
}

// Coordinate is the centre of the city's outer limit.
func (c *City) Coordinate() models.Coordinate {
	return c.limit.Center
}

func (c *City) Limit() models.OuterLimit {
	return c.limit
}

func (c *City) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastReport returns the report of the most recent finished cycle.
func (c *City) LastReport() (CycleReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReport == nil {
		return CycleReport{}, false
	}
	return *c.lastReport, true
}

func (c *City) StationWithNumber(number string) (models.Station, bool) {
	s, ok := c.current.Load().stations[number]
	return s, ok
}

// Stations returns every committed station ordered by number.
func (c *City) Stations() []models.Station {
	return append([]models.Station(nil), c.current.Load().sorted...)
}

// StationsWithin returns the committed stations inside b, boundary included.
func (c *City) StationsWithin(b models.Bounds) []models.Station {
	snap := c.current.Load()
	key := getCacheKey(snap.generation, b)
	if cached, ok := c.cache.get(key); ok {
		return append([]models.Station(nil), cached...)
	}
	result := geo.StationsWithin(b, snap.sorted)
	c.cache.add(key, result)
	return append([]models.Station(nil), result...)
}

// RegionContainingData is the bounding region of all committed stations.
func (c *City) RegionContainingData() models.Bounds {
	return c.current.Load().bounds
}

func (c *City) Regions() []models.Region {
	regions := c.current.Load().regions
	out := make([]models.Region, len(regions))
	for i, r := range regions {
		r.StationNumbers = append([]string(nil), r.StationNumbers...)
		out[i] = r
	}
	return out
}

func (c *City) Radars() []models.Radar {
	return append([]models.Radar(nil), c.current.Load().radars...)
}

func (c *City) NearestStations(from models.Coordinate, limit int) []geo.StationDistance {
	return geo.Nearest(from, c.current.Load().sorted, limit)
}

// Patches exposes the read-only correction table.
func (c *City) Patches() *patch.Table {
	return c.patches
}

func (c *City) DetailsURL(number string) (string, bool) {
	s, ok := c.StationWithNumber(number)
	if !ok {
		return "", false
	}
	return c.urls.DetailsURL(s)
}

func (c *City) StationTitle(number string) (string, bool) {
	s, ok := c.StationWithNumber(number)
	if !ok {
		return "", false
	}
	return c.titles.StationTitle(s), true
}

func (c *City) CacheStats() map[string]uint64 {
	return c.cache.stats()
}

// Poll runs Update now and then every interval until ctx is done.
func (c *City) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ticker.C:
			c.pollOnce(ctx)
		case <-ctx.Done():
			log.Info().Str("city", c.name).Msg("Polling stopped")
			return
		}
	}
}

func (c *City) pollOnce(ctx context.Context) {
	err := c.Update(ctx)
	if errors.Is(err, ErrUpdateInProgress) {
		log.Debug().Str("city", c.name).Msg("Skipping poll, cycle still running")
	}
}
