package entity

import (
	"fmt"
	"time"

	"github.com/mbeoliero/amora/pkg/constant"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// SortPair returns the two user ids in ascending order
func SortPair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// GenPairKey generates the unique key of the conversation between two users.
// Format: pr_{min(userA,userB)}:{max(userA,userB)}
// Uses ":" as separator between userIds to support userIds containing "_"
func GenPairKey(userA, userB string) string {
	a, b := SortPair(userA, userB)
	return fmt.Sprintf("%s%s:%s", constant.PairKeyPrefix, a, b)
}
