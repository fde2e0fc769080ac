package highlight

import (
	"encoding/base64"
	"fmt"
)

// The desktop client ships two values the backend requires — the key
// derivation salt and the embedded service credential — as shuffled byte
// tables. Each table is the base64 text of the byte-reversed value, scattered
// through the array by a fixed permutation. The tables below reproduce the
// client's bytes verbatim; unscramble inverts the shuffle.

var saltTable = scrambled{
	data:  []byte{87, 78, 72, 56, 79, 48, 122, 79, 107, 104, 82, 119, 51, 100, 78, 90, 85, 85, 69, 107, 90, 116, 87, 48, 108, 53, 83, 84, 70, 81, 121, 69},
	order: []int{27, 26, 25, 22, 24, 21, 17, 12, 30, 19, 20, 14, 31, 8, 18, 10, 13, 5, 29, 7, 16, 6, 28, 23, 9, 15, 4, 0, 11, 2, 3, 1},
}

var serviceKeyTable = scrambled{
	data:  []byte{87, 90, 109, 107, 53, 105, 81, 89, 103, 107, 68, 49, 68, 105, 106, 77, 49, 106, 53, 78, 77, 78, 106, 106, 61, 77, 89, 51, 66, 79, 86, 89, 106, 65, 106, 52, 89, 77, 87, 106, 89, 122, 78, 90, 65, 89, 50, 105, 61, 90, 106, 66, 48, 53, 71, 89, 87, 52, 81, 84, 78, 90, 74, 78, 103, 50, 70, 79, 51, 50, 50, 77, 122, 108, 84, 81, 120, 90, 89, 89, 89, 79, 119, 122, 121, 108, 69, 77},
	order: []int{65, 20, 1, 6, 31, 63, 74, 12, 85, 78, 33, 3, 41, 19, 45, 52, 75, 21, 23, 16, 56, 36, 5, 71, 87, 68, 72, 15, 18, 32, 82, 8, 17, 54, 83, 35, 28, 48, 49, 77, 30, 25, 10, 38, 22, 50, 29, 11, 86, 64, 57, 70, 47, 67, 81, 44, 61, 7, 58, 13, 84, 76, 42, 24, 46, 37, 62, 80, 27, 51, 73, 34, 69, 39, 53, 2, 79, 60, 26, 0, 66, 40, 55, 9, 59, 43, 14, 4},
}

type scrambled struct {
	data  []byte
	order []int
}

func unscramble(s scrambled) (string, error) {
	if len(s.data) != len(s.order) {
		return "", fmt.Errorf("scrambled table length mismatch: %d data vs %d order", len(s.data), len(s.order))
	}
	buf := make([]byte, len(s.data))
	for i, pos := range s.order {
		if pos < 0 || pos >= len(buf) {
			return "", fmt.Errorf("scrambled table position %d out of range", pos)
		}
		buf[pos] = s.data[i]
	}
	raw, err := base64.StdEncoding.DecodeString(string(buf))
	if err != nil {
		return "", fmt.Errorf("decode scrambled table: %w", err)
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return string(raw), nil
}

func mustUnscramble(s scrambled) string {
	v, err := unscramble(s)
	if err != nil {
		panic(err)
	}
	return v
}

var (
	derivationSalt = mustUnscramble(saltTable)
	serviceAPIKey  = mustUnscramble(serviceKeyTable)
)
