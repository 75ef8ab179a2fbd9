package registry

import (
	"github.com/sirupsen/logrus"
)

// Factory hands out the first client claiming a registry, falling back to
// the generic OCI client. Provider-specific clients (registries with
// non-standard auth or digest quirks) register ahead of the fallback.
type Factory struct {
	clients  []Client
	fallback Client
}

func NewFactory(log *logrus.Entry, extra ...Client) *Factory {
	return &Factory{
		clients:  extra,
		fallback: NewOCIClient(log),
	}
}

// ClientFor returns the client responsible for the given registry host.
func (f *Factory) ClientFor(registry string) Client {
	for _, c := range f.clients {
		if c.CanHandle(registry) {
			return c
		}
	}
	return f.fallback
}
