package fieldsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldrover/go-fieldsync/fieldstore"
	"github.com/fieldrover/go-fieldsync/inspection"
)

// fakeRemote is an in-memory RemoteStore with per-operation failure
// injection. All methods are safe for concurrent use.
type fakeRemote struct {
	mu        sync.Mutex
	available bool
	sites     map[string]inspection.Site
	logs      map[string]inspection.InspectionLog
	blobs     map[string][]byte
	blobTypes map[string]string

	fetchErr       error
	upsertSiteErr  error
	upsertLogErr   error
	deleteSiteErr  error
	deleteLogErr   error
	putBlobErrs    map[string]error // keyed by blob path
	onUpsertSite   func(inspection.Site)
	upsertSiteSeen int
	upsertLogSeen  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		available: true,
		sites:     make(map[string]inspection.Site),
		logs:      make(map[string]inspection.InspectionLog),
		blobs:     make(map[string][]byte),
		blobTypes: make(map[string]string),
	}
}

func (f *fakeRemote) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeRemote) setAvailable(v bool) {
	f.mu.Lock()
	f.available = v
	f.mu.Unlock()
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) FetchSites(ctx context.Context) ([]inspection.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]inspection.Site, 0, len(f.sites))
	for _, site := range f.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) FetchLogs(ctx context.Context) ([]inspection.InspectionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]inspection.InspectionLog, 0, len(f.logs))
	for _, log := range f.logs {
		out = append(out, log)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) UpsertSite(ctx context.Context, site inspection.Site) error {
	f.mu.Lock()
	if f.upsertSiteErr != nil {
		defer f.mu.Unlock()
		return f.upsertSiteErr
	}
	f.upsertSiteSeen++
	f.sites[site.ID] = site
	hook := f.onUpsertSite
	f.mu.Unlock()
	if hook != nil {
		hook(site)
	}
	return nil
}

func (f *fakeRemote) UpsertLog(ctx context.Context, log inspection.InspectionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertLogErr != nil {
		return f.upsertLogErr
	}
	f.upsertLogSeen++
	f.logs[log.ID] = log
	return nil
}

func (f *fakeRemote) DeleteSite(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteSiteErr != nil {
		return f.deleteSiteErr
	}
	delete(f.sites, id)
	return nil
}

func (f *fakeRemote) DeleteLog(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteLogErr != nil {
		return f.deleteLogErr
	}
	delete(f.logs, id)
	return nil
}

func (f *fakeRemote) PutBlob(ctx context.Context, path string, payload []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.putBlobErrs[path]; err != nil {
		return err
	}
	f.blobs[path] = append([]byte(nil), payload...)
	f.blobTypes[path] = contentType
	return nil
}

func (f *fakeRemote) PublicURL(path string) string {
	return "https://blobs.test/inspections/" + path
}

func (f *fakeRemote) failPutBlob(path string, err error) {
	f.mu.Lock()
	if f.putBlobErrs == nil {
		f.putBlobErrs = make(map[string]error)
	}
	f.putBlobErrs[path] = err
	f.mu.Unlock()
}

func (f *fakeRemote) site(id string) (inspection.Site, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[id]
	return site, ok
}

func (f *fakeRemote) log(id string) (inspection.InspectionLog, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log, ok := f.logs[id]
	return log, ok
}

func (f *fakeRemote) blob(path string) ([]byte, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.blobs[path]
	return payload, f.blobTypes[path], ok
}

func (f *fakeRemote) seedSite(site inspection.Site) {
	f.mu.Lock()
	f.sites[site.ID] = site
	f.mu.Unlock()
}

func (f *fakeRemote) seedLog(log inspection.InspectionLog) {
	f.mu.Lock()
	f.logs[log.ID] = log
	f.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// newTestService builds a service over a fresh on-disk store.
func newTestService(t *testing.T, remote RemoteStore, config Config) (*Service, *fieldstore.Store, *fieldstore.PhotoCache) {
	t.Helper()
	db, err := fieldstore.OpenDB(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := fieldstore.NewStore(db, nil, testLogger())
	require.NoError(t, err)
	cache, err := fieldstore.NewPhotoCache(db, testLogger())
	require.NoError(t, err)

	return NewService(store, cache, remote, config, testLogger()), store, cache
}

func requireSignal(t *testing.T, sub *fieldstore.Subscription, msg string) {
	t.Helper()
	select {
	case <-sub.C:
	default:
		t.Fatal(msg)
	}
}

func requireNoSignal(t *testing.T, sub *fieldstore.Subscription, msg string) {
	t.Helper()
	select {
	case <-sub.C:
		t.Fatal(msg)
	default:
	}
}

func testSite(id, name string) inspection.Site {
	return inspection.Site{
		ID:   id,
		Name: name,
		Areas: []inspection.Area{
			{Name: "Yard", Points: []inspection.CheckPoint{
				{ID: "p1", Question: "Is the gate locked?"},
			}},
		},
	}
}

func testLog(id, siteName string, answers ...inspection.Answer) inspection.InspectionLog {
	return inspection.InspectionLog{
		ID:            id,
		SiteName:      siteName,
		InspectorName: "Kim",
		Date:          "2025-07-14",
		Answers:       answers,
	}
}

func mustListSites(t *testing.T, store *fieldstore.Store) []inspection.Site {
	t.Helper()
	sites, err := store.ListSites(context.Background())
	require.NoError(t, err)
	return sites
}

func mustListLogs(t *testing.T, store *fieldstore.Store) []inspection.InspectionLog {
	t.Helper()
	logs, err := store.ListLogs(context.Background())
	require.NoError(t, err)
	return logs
}

func findSite(sites []inspection.Site, id string) (inspection.Site, bool) {
	for _, site := range sites {
		if site.ID == id {
			return site, true
		}
	}
	return inspection.Site{}, false
}

func findLog(logs []inspection.InspectionLog, id string) (inspection.InspectionLog, bool) {
	for _, log := range logs {
		if log.ID == id {
			return log, true
		}
	}
	return inspection.InspectionLog{}, false
}

var errBoom = fmt.Errorf("boom")
