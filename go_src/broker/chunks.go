package broker

import (
	"fmt"
	"math"
	"time"

	"histdata/go_src/gateway"
)

// Chunk is one gateway-sized slice of a requested range.
// It covers [Start, End): the boundary instant belongs to the newer chunk.
type Chunk struct {
	Start       time.Time
	End         time.Time
	Duration    string
	EndDateTime string
}

// Days is the span of the chunk in whole days, rounded up.
func (c Chunk) Days() int {
	return spanDays(c.Start, c.End)
}

func spanDays(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

// PlanChunks splits [from, to) into chunks of at most one calendar month.
// Months are walked backward from to, clamping to the end of shorter months.
// Whatever is left before the last full month becomes a day-count chunk, and a
// part of a day left before that becomes a second-count chunk, so every
// chunk's duration string spans exactly [Start, End).
// The result is ordered oldest first. It is empty when from is not before to.
func PlanChunks(from, to time.Time) []Chunk {
	if !from.Before(to) {
		return nil
	}

	var chunks []Chunk
	cursor := to
	for cursor.After(from) {
		prev := gateway.AddMonthsClamped(cursor, -1)
		if !prev.After(from) {
			chunks = appendRemainder(chunks, from, cursor)
			break
		}
		chunks = append(chunks, Chunk{
			Start:       prev,
			End:         cursor,
			Duration:    "1 M",
			EndDateTime: gateway.FormatEndDateTime(cursor),
		})
		cursor = prev
	}

	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}
	return chunks
}

// appendRemainder appends the newest-first chunks covering [from, end), which
// is shorter than a month: whole days ending at end, then the seconds before them.
func appendRemainder(chunks []Chunk, from, end time.Time) []Chunk {
	days := int(end.Sub(from).Hours() / 24)
	for days > 0 && end.AddDate(0, 0, -days).Before(from) {
		days--
	}
	dayStart := end.AddDate(0, 0, -days)
	if days > 0 {
		chunks = append(chunks, Chunk{
			Start:       dayStart,
			End:         end,
			Duration:    fmt.Sprintf("%d D", days),
			EndDateTime: gateway.FormatEndDateTime(end),
		})
	}
	if rest := dayStart.Sub(from); rest > 0 {
		chunks = append(chunks, Chunk{
			Start:       from,
			End:         dayStart,
			Duration:    fmt.Sprintf("%d S", int(math.Ceil(rest.Seconds()))),
			EndDateTime: gateway.FormatEndDateTime(dayStart),
		})
	}
	return chunks
}
