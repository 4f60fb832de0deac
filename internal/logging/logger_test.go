// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"json", "text", ""} {
		logger, err := New(format)
		require.NoError(t, err, "format %q", format)
		require.NotNil(t, logger)
		logger.Info("logger ready")
	}
}
