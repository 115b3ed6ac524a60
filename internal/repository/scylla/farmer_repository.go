package scylla

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/bucketing"
	"agri-auth/internal/model"
	"agri-auth/internal/util"
)

// FarmerRepository stores farmer identities in the farmers table, partitioned
// by farmer_bucket, with a phone_to_farmer lookup table keyed by phone hash.
type FarmerRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewFarmerRepository(client *ScyllaClient, bm *bucketing.BucketingManager, logger *zap.Logger) *FarmerRepository {
	return &FarmerRepository{
		client:    client,
		bucketing: bm,
	}
}

func (r *FarmerRepository) CreateFarmer(ctx context.Context, farmer *model.Farmer) error {
	if farmer.FarmerID == "" {
		farmer.FarmerID = uuid.New().String()
	}
	farmer.FarmerBucket = r.bucketing.GetFarmerBucket(farmer.FarmerID)

	now := time.Now().UTC()
	if farmer.CreatedAt.IsZero() {
		farmer.CreatedAt = now
	}

	// The farmers row and the phone lookup row go in one logged batch so a
	// partial write can never leave a phone pointing at a missing farmer.
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        INSERT INTO farmers (
            farmer_bucket, farmer_id, phone_hash, phone_encrypted, phone_key_id,
            name, district, crops, is_verified, created_at, updated_at, last_login_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		farmer.FarmerBucket, farmer.FarmerID, farmer.PhoneHash, farmer.PhoneEncrypted,
		farmer.PhoneKeyID, farmer.Name, farmer.District, farmer.Crops,
		farmer.IsVerified, farmer.CreatedAt, farmer.UpdatedAt, farmer.LastLoginAt)
	batch.Query(`
        INSERT INTO phone_to_farmer (phone_hash, farmer_bucket, farmer_id, created_at)
        VALUES (?, ?, ?, ?)`,
		farmer.PhoneHash, farmer.FarmerBucket, farmer.FarmerID, farmer.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create farmer",
			zap.String("farmer_id", farmer.FarmerID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to create farmer", err)
	}

	util.Info("Farmer created",
		zap.String("farmer_id", farmer.FarmerID),
		zap.Int("farmer_bucket", farmer.FarmerBucket))

	return nil
}

func (r *FarmerRepository) GetFarmerByID(ctx context.Context, farmerID string) (*model.Farmer, error) {
	bucket := r.bucketing.GetFarmerBucket(farmerID)

	farmer := &model.Farmer{}
	query := r.client.Prepared.GetFarmerByID.Bind(bucket, farmerID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&farmer.FarmerBucket, &farmer.FarmerID, &farmer.PhoneHash,
		&farmer.PhoneEncrypted, &farmer.PhoneKeyID, &farmer.Name,
		&farmer.District, &farmer.Crops, &farmer.IsVerified,
		&farmer.CreatedAt, &farmer.UpdatedAt, &farmer.LastLoginAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, autherr.New(autherr.CodeUserNotFound, "farmer not found")
		}
		util.Error("Failed to get farmer by id",
			zap.String("farmer_id", farmerID),
			zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to get farmer", err)
	}

	return farmer, nil
}

func (r *FarmerRepository) GetFarmerByPhoneHash(ctx context.Context, phoneHash string) (*model.Farmer, error) {
	var bucket int
	var farmerID string

	query := r.client.Prepared.GetFarmerByPhone.Bind(phoneHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &farmerID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, autherr.New(autherr.CodeUserNotFound, "no farmer for phone")
		}
		util.Error("Failed to look up farmer by phone hash", zap.Error(err))
		return nil, autherr.Wrap(autherr.CodeStoreUnavailable, "failed to look up farmer", err)
	}

	return r.GetFarmerByID(ctx, farmerID)
}

func (r *FarmerRepository) UpdateLastLogin(ctx context.Context, farmerID string, at time.Time) error {
	bucket := r.bucketing.GetFarmerBucket(farmerID)

	query := r.client.Prepared.UpdateLastLogin.Bind(at, bucket, farmerID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update last login",
			zap.String("farmer_id", farmerID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to update last login", err)
	}
	return nil
}

func (r *FarmerRepository) UpdateProfile(ctx context.Context, farmer *model.Farmer) error {
	bucket := r.bucketing.GetFarmerBucket(farmer.FarmerID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateProfile.Bind(
		farmer.Name, farmer.District, farmer.Crops, now,
		bucket, farmer.FarmerID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update farmer profile",
			zap.String("farmer_id", farmer.FarmerID),
			zap.Error(err))
		return autherr.Wrap(autherr.CodeStoreUnavailable, "failed to update profile", err)
	}

	farmer.UpdatedAt = &now
	return nil
}

func (r *FarmerRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
