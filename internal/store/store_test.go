package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.db")

	s, err := Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestGenerateAPIKeyMatchesPattern(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, KeyPattern.MatchString(key), "generated key %q must match KeyPattern", key)
}

func TestCreateAndAdmitKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateKey(ctx, "test key", 1000, nil)
	require.NoError(t, err)

	admitted, err := s.Admit(ctx, created.APIKey, 0)
	require.NoError(t, err)
	assert.Equal(t, created.ID, admitted.ID)
}

func TestAdmitRejectsMalformedKey(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Admit(context.Background(), "not-a-valid-key", 0)
	assert.ErrorIs(t, err, ErrKeyNotAdmissible)
}

func TestAdmitRejectsUnknownKey(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Admit(context.Background(), "lxs_"+"A"+"bcdefghijklmnopqrstuvwx", 0)
	assert.ErrorIs(t, err, ErrKeyNotAdmissible)
}

func TestAdmitRejectsExhaustedBudget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateKey(ctx, "budget-limited", 100, nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordUsage(ctx, created.ID, nil, "openrouter", "openai/gpt-4o-mini", 60, 60))

	_, err = s.Admit(ctx, created.APIKey, 0)
	assert.ErrorIs(t, err, ErrKeyNotAdmissible)
}

func TestAdmitRejectsWhenEstimatedTokensWouldExceedRemainingBudget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateKey(ctx, "budget-limited", 100, nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordUsage(ctx, created.ID, nil, "openrouter", "openai/gpt-4o-mini", 40, 40))

	_, err = s.Admit(ctx, created.APIKey, 21)
	assert.ErrorIs(t, err, ErrKeyNotAdmissible)

	admitted, err := s.Admit(ctx, created.APIKey, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 80, admitted.UsedTokens)
}

func TestAdmitRejectsExpiredKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)

	created, err := s.CreateKey(ctx, "expired", 0, &past)
	require.NoError(t, err)

	_, err = s.Admit(ctx, created.APIKey, 0)
	assert.ErrorIs(t, err, ErrKeyNotAdmissible)
}

func TestRecordUsageIncrementsUsedTokensMonotonically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateKey(ctx, "monotonic", 0, nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordUsage(ctx, created.ID, nil, "dashscope", "qwen-max", 10, 20))
	require.NoError(t, s.RecordUsage(ctx, created.ID, nil, "dashscope", "qwen-max", 5, 5))

	admitted, err := s.Admit(ctx, created.APIKey, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 40, admitted.UsedTokens)
}

func TestSaveRecordReturnsAssignedID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRecord(ctx, &InteractionRecord{
		Method:         "POST",
		Path:           "/v1/messages",
		Timestamp:      time.Now().UTC(),
		TargetPlatform: "openrouter",
		TargetModel:    "openai/gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = uuid.Parse(id)
	assert.NoError(t, err, "assigned id should be a valid UUID")
}
