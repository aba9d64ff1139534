package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of change-feed partitions.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a scope key.
func GetShardID(key string) int {
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int(checksum % ShardCount)
}

// ChangeSubject returns the change-feed subject of one record write.
// Format: app.change.{shard_id}.{table}.{kind}.{record_id}
func ChangeSubject(scopeKey, table, kind, recordID string) string {
	return fmt.Sprintf("app.change.%d.%s.%s.%s", GetShardID(scopeKey), table, kind, recordID)
}

// TableSubject matches every change to table on every shard.
func TableSubject(table string) string {
	return fmt.Sprintf("app.change.*.%s.>", table)
}
