package publish

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonft-service/internal/domain"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]interface{}{"a": "x", "b": 1})
	require.NoError(t, err)

	assert.Equal(t, `{"a":"x","b":1}`, string(a))
	assert.Equal(t, a, b)
}

func TestContentKey(t *testing.T) {
	k1 := ContentKey([]byte("hello"))
	k2 := ContentKey([]byte("hello"))
	k3 := ContentKey([]byte("hello!"))

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "Qm"), "sha2-256 multihash should encode with Qm prefix, got %s", k1)

	raw, err := base58.Decode(k1)
	require.NoError(t, err)
	assert.Len(t, raw, 34)
	assert.Equal(t, byte(0x12), raw[0])
	assert.Equal(t, byte(0x20), raw[1])
}

func TestMemory_PublishFetch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	uri, err := m.Publish(ctx, []byte(`{"name":"x"}`), ContentTypeJSON)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, MemoryScheme))
	assert.True(t, strings.HasSuffix(uri, ".json"))

	again, err := m.Publish(ctx, []byte(`{"name":"x"}`), ContentTypeJSON)
	require.NoError(t, err)
	assert.Equal(t, uri, again)
	assert.Equal(t, 1, m.Len())

	data, err := m.Fetch(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"x"}`, string(data))

	_, err = m.Fetch(ctx, MemoryScheme+"missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Fetch(ctx, "https://elsewhere/x")
	assert.Error(t, err)
}

func TestPublishMetadata_Deterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	meta := &domain.AssetMetadata{
		Name:       "EvoNFT #1",
		Version:    2,
		Attributes: []domain.Attribute{{TraitType: "Level", Value: 2}},
	}

	u1, err := PublishMetadata(ctx, m, meta)
	require.NoError(t, err)
	u2, err := PublishMetadata(ctx, m, meta.Clone())
	require.NoError(t, err)
	assert.Equal(t, u1, u2)

	data, err := m.Fetch(ctx, u1)
	require.NoError(t, err)
	decoded, err := domain.DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "EvoNFT #1", decoded.Name)
	assert.Equal(t, 2, decoded.Version)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, content []byte, contentType string) (string, error) {
	return "", f.err
}

func TestPublishMetadata_WrapsFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")
	_, err := PublishMetadata(context.Background(), failingPublisher{err: boom}, &domain.AssetMetadata{})
	assert.ErrorIs(t, err, domain.ErrPublish)
	assert.ErrorIs(t, err, boom)

	_, err = PublishMetadata(context.Background(), NewMemory(), nil)
	assert.ErrorIs(t, err, domain.ErrPublish)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.Error(t, err)

	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", Bucket: "b"})
	assert.Error(t, err)

	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"})
	assert.Error(t, err)
}

func TestS3Store_URIMapping(t *testing.T) {
	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "evonft", Prefix: "/metadata/"})
	require.NoError(t, err)

	key := s.objectKey("Qmabc.json")
	assert.Equal(t, "metadata/Qmabc.json", key)
	assert.Equal(t, "s3://evonft/metadata/Qmabc.json", s.uri(key))

	got, ok := s.keyFromURI("s3://evonft/metadata/Qmabc.json")
	assert.True(t, ok)
	assert.Equal(t, key, got)

	public, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "evonft", PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/Qmabc.json", public.uri("Qmabc.json"))
	got, ok = public.keyFromURI("https://cdn.example.com/Qmabc.json")
	assert.True(t, ok)
	assert.Equal(t, "Qmabc.json", got)

	_, ok = public.keyFromURI("https://other.example.com/Qmabc.json")
	assert.False(t, ok)
}
