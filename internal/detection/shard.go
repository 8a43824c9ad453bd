// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package detection

import (
	"github.com/cespare/xxhash/v2"
)

// shardCount must be a power of two.
const shardCount = 64

const shardMask = shardCount - 1

// shardIndex maps a client key onto a shard. The registry, block store and
// connection tracker all use it, so one key always lands on the same index.
func shardIndex(key string) int {
	return int(xxhash.Sum64String(key) & shardMask)
}
