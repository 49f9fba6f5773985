package storage

import (
	"context"
	"encoding/json"

	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
)

const (
	// AdminGroupPolicy matches the OIDC group name granting console admin.
	AdminGroupPolicy = "minio_admins"
	// ReadGroupPolicy matches the OIDC group name granting read-only access.
	ReadGroupPolicy = "minio_read_users"
)

// bucketAPI is the slice of the MinIO S3 client the store needs.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// adminAPI is the slice of the MinIO admin client the store needs.
type adminAPI interface {
	AddUser(ctx context.Context, accessKey, secretKey string) error
	AddCannedPolicy(ctx context.Context, policyName string, policy []byte) error
	SetPolicy(ctx context.Context, policyName, entityName string, isGroup bool) error
}

// Config describes one object storage endpoint.
type Config struct {
	// Endpoint is host:port, without a scheme.
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	// External marks an endpoint this installer does not administer: bucket
	// and user creation are skipped and supplied keys are used verbatim.
	External bool
}

// ObjectStore provisions buckets and per-app access credentials on a MinIO
// deployment, pairing the S3 API with the admin API.
type ObjectStore struct {
	client   bucketAPI
	admin    adminAPI
	external bool
}

// NewObjectStore dials the S3 and admin APIs at cfg.Endpoint.
func NewObjectStore(cfg Config) (*ObjectStore, error) {
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.NewCLIError("cannot create object storage client", err, map[string]interface{}{
			"endpoint": cfg.Endpoint,
		})
	}

	admin, err := madmin.NewWithOptions(cfg.Endpoint, &madmin.Options{
		Creds:  creds,
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.NewCLIError("cannot create object storage admin client", err, map[string]interface{}{
			"endpoint": cfg.Endpoint,
		})
	}

	return &ObjectStore{client: client, admin: admin, external: cfg.External}, nil
}

// External reports whether this endpoint is administered elsewhere.
func (s *ObjectStore) External() bool {
	return s.external
}

// CreateUserCredentials registers accessKey with a freshly generated secret
// key and returns it. On an external endpoint nothing is created and the
// caller keeps its user-supplied key.
func (s *ObjectStore) CreateUserCredentials(ctx context.Context, accessKey string) (string, error) {
	if s.external {
		logging.WithField("access_key", accessKey).
			Debug("External object storage endpoint, skipping user creation")
		return "", nil
	}

	secretKey, err := secrets.GeneratePassword(secrets.DefaultPasswordLength)
	if err != nil {
		return "", err
	}

	if err := s.admin.AddUser(ctx, accessKey, secretKey); err != nil {
		return "", errors.NewCLIError("cannot create object storage user", err, map[string]interface{}{
			"access_key": accessKey,
		})
	}

	logging.WithField("access_key", accessKey).Info("Created object storage user")
	return secretKey, nil
}

// EnsureBucket creates the bucket if absent and attaches a read-write policy
// scoped to it for accessKey. An existing bucket is left exactly as is.
func (s *ObjectStore) EnsureBucket(ctx context.Context, name, accessKey string) error {
	if s.external {
		logging.WithField("bucket", name).
			Debug("External object storage endpoint, skipping bucket creation")
		return nil
	}

	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return errors.NewCLIError("cannot check bucket", err, map[string]interface{}{
			"bucket": name,
		})
	}
	if exists {
		logging.WithField("bucket", name).Debug("Bucket already exists")
		return nil
	}

	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		return errors.NewCLIError("cannot create bucket", err, map[string]interface{}{
			"bucket": name,
		})
	}

	policyName := name + "BucketReadWrite"
	policy := bucketReadWritePolicy(name)
	if err := s.admin.AddCannedPolicy(ctx, policyName, policy); err != nil {
		return errors.NewCLIError("cannot create bucket policy", err, map[string]interface{}{
			"bucket": name, "policy": policyName,
		})
	}
	if err := s.admin.SetPolicy(ctx, policyName, accessKey, false); err != nil {
		return errors.NewCLIError("cannot attach bucket policy", err, map[string]interface{}{
			"bucket": name, "policy": policyName, "access_key": accessKey,
		})
	}

	logging.WithFields(map[string]interface{}{"bucket": name, "access_key": accessKey}).
		Info("Created bucket with read-write policy")
	return nil
}

// EnsureGroupPolicies installs the console policies whose names line up with
// the OIDC group claims, so identity provider roles map straight onto
// storage permissions. AddCannedPolicy upserts, re-runs are safe.
func (s *ObjectStore) EnsureGroupPolicies(ctx context.Context) error {
	if s.external {
		return nil
	}

	if err := s.admin.AddCannedPolicy(ctx, AdminGroupPolicy, adminPolicy()); err != nil {
		return errors.NewCLIError("cannot create admin group policy", err, map[string]interface{}{
			"policy": AdminGroupPolicy,
		})
	}
	if err := s.admin.AddCannedPolicy(ctx, ReadGroupPolicy, readOnlyPolicy()); err != nil {
		return errors.NewCLIError("cannot create read group policy", err, map[string]interface{}{
			"policy": ReadGroupPolicy,
		})
	}

	logging.Info("Installed object storage group policies for OIDC")
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource,omitempty"`
}

func bucketReadWritePolicy(bucket string) []byte {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: []string{
				"s3:GetBucketLocation",
				"s3:GetObject",
				"s3:PutObject",
				"s3:DeleteObject",
				"s3:ListBucket",
			},
			Resource: []string{
				"arn:aws:s3:::" + bucket,
				"arn:aws:s3:::" + bucket + "/*",
			},
		}},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func adminPolicy() []byte {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{Effect: "Allow", Action: []string{"admin:*"}},
			{Effect: "Allow", Action: []string{"kms:*"}},
			{
				Effect:   "Allow",
				Action:   []string{"s3:*"},
				Resource: []string{"arn:aws:s3:::*"},
			},
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func readOnlyPolicy() []byte {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: []string{
				"s3:GetBucketLocation",
				"s3:GetObject",
			},
			Resource: []string{"arn:aws:s3:::*"},
		}},
	}
	raw, _ := json.Marshal(doc)
	return raw
}
