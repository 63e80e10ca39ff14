package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{fmt.Errorf("register: %w", model.ErrDuplicateRegistration), OutcomeDuplicate},
		{model.ErrEventFull, OutcomeFull},
		{model.ErrEventNotOpen, OutcomeNotOpen},
		{model.ErrInvalidTransition, OutcomeInvalid},
		{model.ErrNotFound, OutcomeNotFound},
		{model.ErrInvalidInput, OutcomeBadInput},
		{model.ErrConflict, OutcomeConflict},
		{fmt.Errorf("%w: %w", model.ErrBusy, errors.New("deadline")), OutcomeBusy},
		{model.ErrCapacityBelowActive, OutcomeBelowActive},
		{errors.New("disk on fire"), OutcomeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}

func TestRecorders(t *testing.T) {
	Reset()
	reg := prometheus.NewRegistry()
	Register(reg)

	RecordDecision("register", nil)
	RecordDecision("register", nil)
	RecordDecision("register", model.ErrEventFull)
	RecordRetry(model.ErrConflict)
	RecordLockWait(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(decisions.WithLabelValues("register", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(decisions.WithLabelValues("register", OutcomeFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(retries.WithLabelValues(OutcomeConflict)))

	n, err := testutil.GatherAndCount(reg,
		"volunteer_admission_decisions_total",
		"volunteer_admission_retries_total",
		"volunteer_admission_lock_wait_seconds",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
