// Package util provides shared utility functions.
package util

import "hash/fnv"

// ConnID computes a 4-byte tag for a connection from its description
// (typically an endpoint name holding the remote address). The hash is used
// solely to correlate log lines and does not need to be reversible.
func ConnID(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return h.Sum32()
}
