package knowledge

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/paprika-agent/paprika/pkg/kv"
)

// Key layout (relative to the store prefix):
//
//	{prefix}:mem:rec:{id}                      → msgpack MemoryRecord
//	{prefix}:mem:day:{day%010d}:{slot%04d}:{id} → empty (recency index)
//	{prefix}:skill:{escaped task name}          → msgpack SkillRecord
//
// Zero padding makes lexicographic order match (day, slot) order, so a
// reverse scan of the day index yields the newest memories first. Task
// names and memory IDs are query-escaped because they may contain the key
// separator.

func memoryKey(prefix kv.Key, id string) kv.Key {
	return prefix.Append("mem", "rec", url.QueryEscape(id))
}

func memoryRecordPrefix(prefix kv.Key) kv.Key {
	return prefix.Append("mem", "rec")
}

func dayIndexPrefix(prefix kv.Key) kv.Key {
	return prefix.Append("mem", "day")
}

func dayIndexKey(prefix kv.Key, m *MemoryRecord) kv.Key {
	return prefix.Append("mem", "day", fmt.Sprintf("%010d", max(m.Day, 0)), fmt.Sprintf("%04d", max(m.TimeSlot, 0)), url.QueryEscape(m.ID))
}

// parseDayIndexKey returns the day and memory ID of a day index key.
func parseDayIndexKey(key kv.Key, prefixLen int) (day int, id string, err error) {
	if len(key) != prefixLen+5 {
		return 0, "", fmt.Errorf("knowledge: malformed day index key %s", key)
	}
	day, err = strconv.Atoi(key[prefixLen+2])
	if err != nil {
		return 0, "", fmt.Errorf("knowledge: malformed day in %s: %w", key, err)
	}
	id, err = url.QueryUnescape(key[prefixLen+4])
	if err != nil {
		return 0, "", fmt.Errorf("knowledge: malformed id in %s: %w", key, err)
	}
	return day, id, nil
}

func skillKey(prefix kv.Key, taskName string) kv.Key {
	return prefix.Append("skill", url.QueryEscape(taskName))
}

func skillPrefix(prefix kv.Key) kv.Key {
	return prefix.Append("skill")
}
