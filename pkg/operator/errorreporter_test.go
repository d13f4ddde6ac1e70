package operator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxgrid/fluxgrid/pkg/log"
)

func TestDeserializationErrorReporterAggregatesWithoutPanicking(t *testing.T) {
	r := NewDeserializationErrorReporter("op-a", log.WithOperatorID("op-a", 0))

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			r.Report(errors.New("malformed record"))
		}
		r.Flush()
	})
}

func TestDeserializationErrorReporterFlushIsIdempotentWhenEmpty(t *testing.T) {
	r := NewDeserializationErrorReporter("op-a", log.WithOperatorID("op-a", 0))

	assert.NotPanics(t, func() {
		r.Flush()
		r.Flush()
	})
}
