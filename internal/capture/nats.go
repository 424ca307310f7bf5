package capture

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the broker used to fan out stream records.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("biohacker"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}
