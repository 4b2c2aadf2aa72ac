package printer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error")
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title and no explanation", func(t *testing.T) {
		err := Error("Test Error", "")
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestStatus(t *testing.T) {
	// Colored output still contains the status word itself.
	for _, status := range []string{"open", "in_progress", "blocked", "ready", "done"} {
		require.Contains(t, Status(status), status)
	}
}

// Note: Error prints formatted output to stderr with colors. The error object
// returned only contains the title for Cobra's error handling. This is
// intentional to avoid duplicate output while providing rich formatted errors.
