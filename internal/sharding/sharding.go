package sharding

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ShardCount is the fixed number of relay partitions.
const ShardCount = 1024

// ListEventWildcard matches every list event subject on the relay.
const ListEventWildcard = "app.event.*.list.*"

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// ListEventSubject returns the relay subject for events of one list.
// Format: app.event.{shard_id}.list.{list_id}
func ListEventSubject(listID string) string {
	return fmt.Sprintf("app.event.%d.list.%s", GetShardID(listID), listID)
}

// ListFromSubject extracts the list id from a ListEventSubject value.
func ListFromSubject(subject string) (string, bool) {
	parts := strings.SplitN(subject, ".", 5)
	if len(parts) != 5 || parts[0] != "app" || parts[1] != "event" || parts[3] != "list" {
		return "", false
	}
	if _, err := strconv.Atoi(parts[2]); err != nil || parts[4] == "" {
		return "", false
	}
	return parts[4], true
}
