package bucketing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
)

func newTestManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{PhoneBuckets: 16},
	})
}

func TestPhoneBucketStableAndInRange(t *testing.T) {
	bm := newTestManager()

	phones := []string{"+12125550187", "+13105550199", "+442079460958"}
	for _, p := range phones {
		first := bm.GetPhoneBucket(p)
		require.GreaterOrEqual(t, first, 0)
		require.Less(t, first, 16)

		for i := 0; i < 10; i++ {
			require.Equal(t, first, bm.GetPhoneBucket(p), "bucket must be stable for %s", p)
		}
	}
}

func TestPhoneBucketsSpread(t *testing.T) {
	bm := newTestManager()

	// Sequential numbers in the same area code should not pile into one bucket.
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		phone := "+1212555" + string([]byte{byte('0' + i/10), byte('0' + i%10)}) + "00"
		seen[bm.GetPhoneBucket(phone)] = true
	}
	require.Greater(t, len(seen), 4)
}
