package helpers

import (
	"encoding/hex"
	"math/rand"
	"time"
)

// RandUnix is seeded by current time, log the seed yourself if reproduction matters.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
