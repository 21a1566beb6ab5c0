package sharding

import "hash/crc32"

// ShardCount is the fixed number of event-subject partitions. Subscribers use
// a wildcard for the shard token, so changing this only affects how publishes
// spread across the stream.
const ShardCount = 256

// GetShardID calculates the deterministic shard for an entity ID (user or
// task). The same ID always routes to the same shard.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}
