package common

import (
	"math/rand"
	"time"
)

// GenerateSyncRef returns a short random reference used to correlate log
// lines belonging to one sync round.
func GenerateSyncRef() string {
	const characters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	result := make([]byte, 8)
	for i := range result {
		result[i] = characters[r.Intn(len(characters))]
	}
	return "SYNC-" + string(result)
}
