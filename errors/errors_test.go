package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Plumber", "AddRule", "pattern compile")
	require.Error(t, err)
	assert.Equal(t, "Plumber.AddRule: pattern compile failed: boom", err.Error())
	assert.ErrorIs(t, err, base)

	assert.NoError(t, Wrap(nil, "a", "b", "c"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	assert.True(t, IsTransient(WrapTransient(base, "c", "m", "a")))
	assert.True(t, IsInvalid(WrapInvalid(base, "c", "m", "a")))
	assert.True(t, IsFatal(WrapFatal(base, "c", "m", "a")))

	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	err := WrapInvalid(ErrRuleRejected, "Plumber", "AddRule", "rule validation")
	assert.ErrorIs(t, err, ErrRuleRejected)
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrTransportClosed))
	assert.True(t, IsInvalid(ErrInvalidValue))
	assert.True(t, IsInvalid(ErrRuleRejected))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(ErrKeyNotFound))
	assert.False(t, IsNotFound(ErrInvalidValue))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidValue))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("connection refused")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(nil, 0))
	assert.False(t, rc.ShouldRetry(WrapInvalid(stderrors.New("no"), "c", "m", "a"), 0))
}

func TestToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, rc.InitialDelay, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
