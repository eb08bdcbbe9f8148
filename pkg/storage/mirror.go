/*
Copyright 2024 KubeAGI.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage pushes completed artifacts to an S3 compatible
// mirror bucket, so other machines can pull them without hitting the
// upstream sources again.
package storage

import (
	"context"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mirror uploads artifacts into one bucket under a fixed prefix.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
}

type mirrorOptions struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	prefix    string
	secure    bool
}

type Option func(*mirrorOptions)

func WithEndpoint(endpoint string) Option {
	return func(o *mirrorOptions) {
		o.endpoint = endpoint
	}
}

func WithAccessKey(key string) Option {
	return func(o *mirrorOptions) {
		o.accessKey = key
	}
}

func WithSecretKey(key string) Option {
	return func(o *mirrorOptions) {
		o.secretKey = key
	}
}

func WithBucket(bucket string) Option {
	return func(o *mirrorOptions) {
		o.bucket = bucket
	}
}

// WithPrefix places every object under the given key prefix.
func WithPrefix(prefix string) Option {
	return func(o *mirrorOptions) {
		o.prefix = prefix
	}
}

func WithSecure(secure bool) Option {
	return func(o *mirrorOptions) {
		o.secure = secure
	}
}

func NewMirror(opts ...Option) (*Mirror, error) {
	o := &mirrorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.endpoint == "" || o.bucket == "" {
		return nil, errors.New("mirror needs an endpoint and a bucket")
	}
	mc, err := minio.New(o.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.accessKey, o.secretKey, ""),
		Secure: o.secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating mirror client")
	}
	return &Mirror{client: mc, bucket: o.bucket, prefix: o.prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
}

// Has reports whether an object of the given size is already mirrored.
// Stat failures count as absent, the push path will surface them.
func (m *Mirror) Has(ctx context.Context, objectName string, size int64) bool {
	info, err := m.client.StatObject(ctx, m.bucket, m.objectKey(objectName), minio.StatObjectOptions{})
	if err != nil {
		return false
	}
	return info.Size == size
}

// Push uploads one local file as objectName under the mirror prefix.
func (m *Mirror) Push(ctx context.Context, localPath, objectName string) error {
	key := m.objectKey(objectName)
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "uploading %s", key)
	}
	klog.V(4).Infof("mirrored %s to %s/%s (%d bytes)", localPath, m.bucket, info.Key, info.Size)
	return nil
}

func (m *Mirror) objectKey(objectName string) string {
	if m.prefix == "" {
		return objectName
	}
	return path.Join(m.prefix, objectName)
}
