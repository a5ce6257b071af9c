package bucketing

import (
	"hash"
	"sync"
	"time"

	"verification-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns phones to stable partition buckets so wide tables
// stay balanced regardless of area-code clustering.
type BucketingManager struct {
	phoneBuckets int
	hasherPool   sync.Pool
	config       *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		phoneBuckets: cfg.Bucketing.PhoneBuckets,
		config:       cfg,
	}

	// Pool of hash functions to avoid allocation overhead.
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetPhoneBucket returns a consistent bucket for a phone (0 to phoneBuckets-1).
func (bm *BucketingManager) GetPhoneBucket(phone string) int {
	return int(bm.getHash(phone) % uint64(bm.phoneBuckets))
}

// GetDateBucket returns the UTC date partition for audit rows.
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

// GetTimeBucket returns the aligned window start for windowSeconds-wide slots.
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

func (bm *BucketingManager) GetPhoneBuckets() int {
	return bm.phoneBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
