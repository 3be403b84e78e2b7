package domain

import "time"

// DurationSeconds 把时长换算为整秒，正的不足一秒部分向上取整
func DurationSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
