package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "relevanced_items", cfg.Collection)
	assert.Equal(t, uint64(384), cfg.VectorSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
}

func TestQdrantConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*QdrantConfig)
		wantErr bool
	}{
		{"defaults valid", func(c *QdrantConfig) {}, false},
		{"zero port", func(c *QdrantConfig) { c.Port = -1 }, true},
		{"port too large", func(c *QdrantConfig) { c.Port = 70000 }, true},
		{"bad collection", func(c *QdrantConfig) { c.Collection = "Bad-Name" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := QdrantConfig{}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTransientGRPC(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(grpccodes.Unavailable, "connection refused"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "timeout"), true},
		{"aborted", status.Error(grpccodes.Aborted, "conflict"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "rate limited"), true},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "bad filter"), false},
		{"unauthenticated", status.Error(grpccodes.Unauthenticated, "no creds"), false},
		{"plain error", errors.New("not a grpc error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientGRPC(tt.err))
		})
	}
}

func TestQdrantPayload_RoundTrip(t *testing.T) {
	it := &knowledge.Item{
		ID:               uuid.New().String(),
		Content:          "escalate pages after two failed retries",
		Summary:          "escalation policy",
		Tier:             knowledge.TierGuardrail,
		Scope:            knowledge.TaskScope("p1", "t9"),
		AutoInject:       true,
		TriggerTaskTypes: []string{"incident", "oncall"},
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	doc, err := encodeItem(it)
	require.NoError(t, err)
	payload := qdrantPayload(it, doc)

	assert.Equal(t, it.ID, payload[metaKeyID].GetStringValue())
	assert.Equal(t, it.ShortID(), payload[metaKeyShortID].GetStringValue())
	assert.Equal(t, "task:p1:t9", payload[metaKeyScope].GetStringValue())
	assert.Equal(t, "guardrail", payload[metaKeyTier].GetStringValue())
	assert.Equal(t, "true", payload[metaKeyAutoInject].GetStringValue())

	triggers := payload[metaKeyTriggers].GetListValue().GetValues()
	require.Len(t, triggers, 2)
	assert.Equal(t, "incident", triggers[0].GetStringValue())

	point := &qdrant.RetrievedPoint{Payload: payload}
	got, err := decodePoint(point)
	require.NoError(t, err)
	assert.Equal(t, it.ID, got.ID)
	assert.Equal(t, it.Content, got.Content)
	assert.Equal(t, it.Scope, got.Scope)
	assert.Equal(t, it.TriggerTaskTypes, got.TriggerTaskTypes)
}

func TestQdrantPayload_NoTriggers(t *testing.T) {
	it := &knowledge.Item{
		ID:        uuid.New().String(),
		Content:   "plain item",
		Tier:      knowledge.TierReference,
		Scope:     knowledge.GlobalScope(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	doc, err := encodeItem(it)
	require.NoError(t, err)

	payload := qdrantPayload(it, doc)
	_, ok := payload[metaKeyTriggers]
	assert.False(t, ok)
	assert.Equal(t, "false", payload[metaKeyAutoInject].GetStringValue())
}

func TestDecodePoint_MissingPayload(t *testing.T) {
	_, err := decodePoint(&qdrant.RetrievedPoint{Payload: map[string]*qdrant.Value{}})
	assert.Error(t, err)

	_, err = decodePoint(&qdrant.RetrievedPoint{Payload: map[string]*qdrant.Value{
		metaKeyItem: {Kind: &qdrant.Value_BoolValue{BoolValue: true}},
	}})
	assert.Error(t, err)
}

func TestPointVector_Empty(t *testing.T) {
	assert.Nil(t, pointVector(&qdrant.RetrievedPoint{}))
}
