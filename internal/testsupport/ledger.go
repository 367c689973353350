package testsupport

import (
	"strconv"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// Pairs builds n valid pairs of the given duration with distinct image refs.
func Pairs(n int, durationSeconds float64) []ledger.Pair {
	pairs := make([]ledger.Pair, n)
	for i := range pairs {
		pairs[i] = ledger.Pair{
			StartImage:      "https://img.example/scene-" + strconv.Itoa(i) + "-start.png",
			EndImage:        "https://img.example/scene-" + strconv.Itoa(i) + "-end.png",
			Prompt:          "scene " + strconv.Itoa(i),
			DurationSeconds: durationSeconds,
		}
	}
	return pairs
}
