package fieldsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldrover/go-fieldsync/fieldstore"
	"github.com/fieldrover/go-fieldsync/inspection"
)

func TestPromotePhotos_UploadsRewritesEvicts(t *testing.T) {
	fake := newFakeRemote()
	svc, _, cache := newTestService(t, fake, Config{})
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "abc", fieldstore.EncodeDataURI("image/jpeg", []byte("jpeg-payload"))))

	log := testLog("log-1", "Depot", inspection.Answer{
		PointID: "p1",
		Photo:   inspection.LocalPhoto("abc"),
	})

	promoted, err := svc.PromotePhotos(ctx, log)
	require.NoError(t, err)

	url, ok := promoted.Answers[0].Photo.URL()
	require.True(t, ok, "the reference must be remote after promotion")
	require.Equal(t, "https://blobs.test/inspections/log-1/p1.jpg", url)

	payload, contentType, ok := fake.blob("log-1/p1.jpg")
	require.True(t, ok)
	require.Equal(t, []byte("jpeg-payload"), payload, "the blob carries the decoded bytes, not the data URI")
	require.Equal(t, "image/jpeg", contentType)

	_, cached, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	require.False(t, cached, "the cache entry must be evicted after promotion")

	// Copy-on-write: the caller's log still holds the local reference.
	require.True(t, log.Answers[0].Photo.IsLocal())
}

func TestPromotePhotos_CacheMissKeepsLocalReference(t *testing.T) {
	fake := newFakeRemote()
	svc, _, _ := newTestService(t, fake, Config{})

	log := testLog("log-1", "Depot", inspection.Answer{
		PointID: "p1",
		Photo:   inspection.LocalPhoto("gone"),
	})

	promoted, err := svc.PromotePhotos(context.Background(), log)
	require.NoError(t, err)

	key, ok := promoted.Answers[0].Photo.LocalKey()
	require.True(t, ok, "a missing payload must never null the reference out")
	require.Equal(t, "gone", key)
	_, _, uploaded := fake.blob("log-1/p1.jpg")
	require.False(t, uploaded)
}

func TestPromotePhotos_FailuresAreIsolatedPerAnswer(t *testing.T) {
	fake := newFakeRemote()
	fake.failPutBlob("log-1/p1.jpg", errBoom)
	svc, _, cache := newTestService(t, fake, Config{})
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "k1", fieldstore.EncodeDataURI("", []byte("one"))))
	require.NoError(t, cache.Put(ctx, "k2", fieldstore.EncodeDataURI("", []byte("two"))))

	log := testLog("log-1", "Depot",
		inspection.Answer{PointID: "p1", Photo: inspection.LocalPhoto("k1")},
		inspection.Answer{PointID: "p2", Photo: inspection.LocalPhoto("k2")},
	)

	promoted, err := svc.PromotePhotos(ctx, log)
	require.NoError(t, err, "per-answer failures are not an error")

	require.True(t, promoted.Answers[0].Photo.IsLocal(), "the failed answer keeps its local reference")
	require.True(t, promoted.Answers[1].Photo.IsRemote(), "the sibling answer still promotes")

	_, stillCached, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, stillCached, "a failed upload must not evict the payload")

	_, evicted, err := cache.Get(ctx, "k2")
	require.NoError(t, err)
	require.False(t, evicted)
}

func TestPromotePhotos_SkipsAbsentAndRemoteReferences(t *testing.T) {
	fake := newFakeRemote()
	svc, _, _ := newTestService(t, fake, Config{})

	log := testLog("log-1", "Depot",
		inspection.Answer{PointID: "p1"},
		inspection.Answer{PointID: "p2", Photo: inspection.RemotePhoto("https://blobs.test/inspections/log-1/p2.jpg")},
	)

	promoted, err := svc.PromotePhotos(context.Background(), log)
	require.NoError(t, err)
	require.True(t, promoted.Answers[0].Photo.IsAbsent())
	require.True(t, promoted.Answers[1].Photo.IsRemote())
}

func TestPromotePhotos_UnavailableReturnsUntouchedCopy(t *testing.T) {
	fake := newFakeRemote()
	fake.setAvailable(false)
	svc, _, cache := newTestService(t, fake, Config{})
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "abc", fieldstore.EncodeDataURI("", []byte("payload"))))
	log := testLog("log-1", "Depot", inspection.Answer{PointID: "p1", Photo: inspection.LocalPhoto("abc")})

	promoted, err := svc.PromotePhotos(ctx, log)
	require.NoError(t, err)
	require.True(t, promoted.Answers[0].Photo.IsLocal())

	_, cached, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, cached)
}

func TestPromotePhotos_ManyAnswersConcurrently(t *testing.T) {
	fake := newFakeRemote()
	svc, _, cache := newTestService(t, fake, Config{PromoteConcurrency: 3})
	ctx := context.Background()

	var answers []inspection.Answer
	for _, point := range []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"} {
		key := "key-" + point
		require.NoError(t, cache.Put(ctx, key, fieldstore.EncodeDataURI("", []byte("payload-"+point))))
		answers = append(answers, inspection.Answer{PointID: point, Photo: inspection.LocalPhoto(key)})
	}

	promoted, err := svc.PromotePhotos(ctx, testLog("log-9", "Depot", answers...))
	require.NoError(t, err)

	for i, answer := range promoted.Answers {
		url, ok := answer.Photo.URL()
		require.True(t, ok, "answer %d must be promoted", i)
		require.Equal(t, fake.PublicURL("log-9/"+answer.PointID+".jpg"), url)

		key, _ := answers[i].Photo.LocalKey()
		_, cached, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, cached)
	}
}
