package chatservice

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// instanceID derives a stable-enough identifier for this process: the pod
// or host name, disambiguated with a short random suffix so two instances
// started on the same host (local dev, tests) never collide.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "chatcore"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
