package distributor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGCSURL(t *testing.T) {
	bucket, object, err := parseGCSURL("gs://fluxgrid-artifacts/jobs/job-1/pipeline")
	require.NoError(t, err)
	assert.Equal(t, "fluxgrid-artifacts", bucket)
	assert.Equal(t, "jobs/job-1/pipeline", object)
}

func TestParseGCSURLRejectsOtherSchemes(t *testing.T) {
	_, _, err := parseGCSURL("https://example.com/pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported artifact url scheme")
}

func TestParseGCSURLRequiresBucketAndObject(t *testing.T) {
	_, _, err := parseGCSURL("gs:///jobs/job-1/pipeline")
	require.Error(t, err)

	_, _, err = parseGCSURL("gs://fluxgrid-artifacts")
	require.Error(t, err)
}

func TestParseGCSURLRejectsMalformed(t *testing.T) {
	_, _, err := parseGCSURL("://bad")
	require.Error(t, err)
}
