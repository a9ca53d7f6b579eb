package reminder

import (
	"fmt"
	"time"

	"mindful/internal/channel"
	"mindful/internal/recurrence"
)

// Render builds the reminder for one due occurrence. The start time is shown
// in the schedule's own zone.
func Render(d recurrence.Due, loc *time.Location) channel.Message {
	if loc == nil {
		loc = time.UTC
	}
	return channel.Message{
		Text:            fmt.Sprintf("Reminder: \"%s\" starts at %s", d.Schedule.Title, d.Occurrence.In(loc).Format("15:04")),
		Title:           d.Schedule.Title,
		ScheduleID:      d.Schedule.ID,
		OccurrenceStart: d.Occurrence,
	}
}
