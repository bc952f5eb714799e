package naming

import (
	"math/rand"
	"time"
)

const letterBytes = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces the unique name of a node. The provisioning code never
// reaches for a process-wide random source directly so tests can pass a
// deterministic generator.
type Generator func() string

// NewRandom returns a Generator producing prefix plus n random characters.
func NewRandom(prefix string, n int) Generator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	return func() string {
		b := make([]byte, n)
		for i := range b {
			b[i] = letterBytes[rng.Int63()%int64(len(letterBytes))]
		}
		return prefix + string(b)
	}
}

// Fixed returns a Generator that always yields name.
func Fixed(name string) Generator {
	return func() string {
		return name
	}
}
