package transport

import (
	"context"

	"github.com/1ureka/holepunch/internal/endpoint"
)

// DNS is registered so "dns" is a valid method name in configurations and
// the default list. It cannot carry traffic yet: both directions fail with
// ErrUnsupported, which the client treats like any other failed method.
func DNS() Method {
	return Method{
		Name: "dns",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			return nil, &ConnectionError{Method: "dns", Address: address, Err: ErrUnsupported}
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			return &ConnectionError{Method: "dns", Err: ErrUnsupported}
		},
	}
}
