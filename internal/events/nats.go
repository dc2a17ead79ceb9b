package events

import "github.com/nats-io/nats.go"

// NATSBus publishes on a NATS connection.
type NATSBus struct {
	nc *nats.Conn
}

func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Connect dials url. An empty url means events are disabled and returns nil.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	return nats.Connect(url, nats.Name("credits"), nats.MaxReconnects(-1))
}
