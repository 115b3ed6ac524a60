package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"agri-auth/internal/config"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns stable partition buckets for farmer rows
// and audit events. ScyllaDB tables are partitioned by these buckets.
type BucketingManager struct {
	farmerBuckets int
	eventBuckets  int
	hasherPool    sync.Pool
	config        *config.Config
}

type BucketAssignment struct {
	FarmerBucket int    `json:"farmer_bucket"`
	EventBucket  int    `json:"event_bucket"`
	TimeBucket   int64  `json:"time_bucket"`
	DateBucket   string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		farmerBuckets: cfg.Bucketing.FarmerBuckets,
		eventBuckets:  cfg.Bucketing.EventBuckets,
		config:        cfg,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetFarmerBucket returns a consistent bucket for a farmer (0 to farmerBuckets-1)
func (bm *BucketingManager) GetFarmerBucket(farmerID interface{}) int {
	var idStr string

	switch v := farmerID.(type) {
	case string:
		idStr = v
	case uuid.UUID:
		idStr = v.String()
	default:
		idStr = toString(v)
	}

	return bm.getBucket(idStr, bm.farmerBuckets)
}

// GetEventBucket returns a bucket for audit events
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetTimeBucket returns the start of the time window containing now
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns the UTC date bucket for events
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

// GetBucketAssignment returns all bucket assignments for a farmer
func (bm *BucketingManager) GetBucketAssignment(farmerID interface{}) *BucketAssignment {
	return &BucketAssignment{
		FarmerBucket: bm.GetFarmerBucket(farmerID),
		EventBucket:  bm.GetEventBucket(toString(farmerID)),
		TimeBucket:   bm.GetTimeBucket(300),
		DateBucket:   bm.GetDateBucket(),
	}
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hash := bm.getHash(key)
	return int(hash % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (bm *BucketingManager) GetFarmerBuckets() int {
	return bm.farmerBuckets
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}
