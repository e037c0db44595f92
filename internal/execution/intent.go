package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swap_trader/internal/core"
)

// NewIdempotencyKey builds a unique key for one mutating attempt. The key
// is compact enough for exchange client-order-id fields: action prefix,
// pair, unix seconds, and a uuid fragment for uniqueness within a second.
func NewIdempotencyKey(action core.IntentAction, pair string) string {
	prefix := "O"
	if action == core.ActionClose {
		prefix = "C"
	}
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	compactPair := strings.ReplaceAll(pair, "_", "")
	return fmt.Sprintf("%s-%s-%d-%s", prefix, compactPair, time.Now().Unix(), frag)
}
