package fieldsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldrover/go-fieldsync/fieldstore"
	"github.com/fieldrover/go-fieldsync/inspection"
)

func fastConfig() Config {
	return Config{
		SyncInterval: time.Hour, // wakeups come from kicks and notifications
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   50 * time.Millisecond,
	}
}

// localSite polls the store without failing the test, for use inside
// require.Eventually conditions.
func localSite(store *fieldstore.Store, id string) (inspection.Site, bool) {
	sites, err := store.ListSites(context.Background())
	if err != nil {
		return inspection.Site{}, false
	}
	return findSite(sites, id)
}

func TestService_StartSyncsImmediately(t *testing.T) {
	fake := newFakeRemote()
	fake.seedSite(testSite("s1", "Depot"))
	svc, store, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, ok := localSite(store, "s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "the first cycle must run without waiting for the interval")
}

func TestService_LocalSaveWakesTheLoop(t *testing.T) {
	fake := newFakeRemote()
	svc, store, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	defer svc.Stop()

	site := testSite("s1", "Depot")
	require.NoError(t, store.SaveSite(context.Background(), &site))

	require.Eventually(t, func() bool {
		uploaded, ok := fake.site("s1")
		return ok && uploaded.Synced
	}, 2*time.Second, 10*time.Millisecond, "a local save must reach the remote store without a kick")

	require.Eventually(t, func() bool {
		got, ok := localSite(store, "s1")
		return ok && got.Synced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_KickTriggersCycle(t *testing.T) {
	fake := newFakeRemote()
	svc, store, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	defer svc.Stop()

	fake.seedSite(testSite("s9", "Late Arrival"))
	svc.Kick()

	require.Eventually(t, func() bool {
		_, ok := localSite(store, "s9")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_FailedCycleRetriesWithBackoff(t *testing.T) {
	fake := newFakeRemote()
	fake.setFetchErr(errBoom)
	fake.seedSite(testSite("s1", "Depot"))
	svc, store, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	defer svc.Stop()

	time.Sleep(50 * time.Millisecond) // let a few failing cycles pass
	fake.setFetchErr(nil)

	require.Eventually(t, func() bool {
		_, ok := localSite(store, "s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "the loop must keep retrying after a failed cycle")
}

func TestService_StopWithoutStart(t *testing.T) {
	fake := newFakeRemote()
	svc, _, _ := newTestService(t, fake, fastConfig())
	svc.Stop()
}

func TestService_StartStopLifecycle(t *testing.T) {
	fake := newFakeRemote()
	svc, _, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	svc.Start(context.Background()) // second Start is a no-op
	svc.Stop()
	svc.Stop() // idempotent

	// A stopped service can start again.
	svc.Start(context.Background())
	svc.Stop()
}

func TestService_UnavailableLoopStaysIdle(t *testing.T) {
	fake := newFakeRemote()
	fake.setAvailable(false)
	fake.seedSite(testSite("s1", "Depot"))
	svc, store, _ := newTestService(t, fake, fastConfig())

	svc.Start(context.Background())
	defer svc.Stop()
	svc.Kick()

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, mustListSites(t, store), "an unavailable backend means local-only operation")
}

func TestDefaultConfigFillsZeroFields(t *testing.T) {
	fake := newFakeRemote()
	svc, _, _ := newTestService(t, fake, Config{})
	require.Equal(t, DefaultConfig(), svc.config)
}
