package oracle

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// fieldRange is the default (low, high) bound of a standard 5-field cron
// position: minute, hour, day-of-month, month, day-of-week.
type fieldRange struct{ low, high int }

var standardFieldRanges = []fieldRange{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week
}

var hashTokenPattern = regexp.MustCompile(`^H(\((\d+)-(\d+)\))?(/(\d+))?$`)

// substituteHashTokens rewrites each "H", "H/N", "H(a-b)" or "H(a-b)/N"
// field in a standard 5-field cron expression with a value deterministic
// per taskName and field position, in the spirit of Jenkins' H token:
// a task's schedule is spread across its period but stable run to run.
func substituteHashTokens(expr, taskName string) string {
	fields := strings.Fields(expr)
	for i, field := range fields {
		if i >= len(standardFieldRanges) {
			break
		}
		m := hashTokenPattern.FindStringSubmatch(field)
		if m == nil {
			continue
		}

		rng := standardFieldRanges[i]
		if m[2] != "" && m[3] != "" {
			low, _ := strconv.Atoi(m[2])
			high, _ := strconv.Atoi(m[3])
			rng = fieldRange{low, high}
		}

		hashed := int(hashSlot(taskName, i))

		if m[5] != "" {
			step, _ := strconv.Atoi(m[5])
			if step <= 0 {
				step = 1
			}
			offset := rng.low + hashed%step
			fields[i] = fmt.Sprintf("%d/%d", offset, step)
			continue
		}

		span := rng.high - rng.low + 1
		fields[i] = strconv.Itoa(rng.low + hashed%span)
	}
	return strings.Join(fields, " ")
}

// hashSlot derives a stable, non-negative hash for a (taskName, field
// position) pair so the same task always hashes to the same slot.
func hashSlot(taskName string, fieldIndex int) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskName))
	_, _ = h.Write([]byte{byte(fieldIndex)})
	return h.Sum32()
}
