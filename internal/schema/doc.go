// Package schema defines the record shapes stored for each dashboard widget.
//
// # Overview
//
// Every widget keeps its data under the signed-in user's subtree as flat
// records (string, number and boolean fields only), which keeps partial
// updates last-write-wins per field:
//
//	users/{uid}/profile                       Profile
//	users/{uid}/tasks/{key}                   Task
//	users/{uid}/notes/{key}                   Note
//	users/{uid}/schedule/{date}/{slot}        Event
//	users/{uid}/habits/{key}                  Habit
//	users/{uid}/links/{key}                   Link
//	users/{uid}/timer                         Timer
//
// Timestamps are stored as RFC 3339 strings in UTC.
//
// # Usage Examples
//
// Building a task record:
//
//	task := &schema.Task{Text: "Water plants", CreatedAt: time.Now()}
//	if err := task.Validate(); err != nil {
//	    return err
//	}
//	err := st.Set(ctx, schema.TaskPath(uid, key), task.Record())
//
// Reading one back from a snapshot child:
//
//	task, err := schema.TaskFromRecord(key, snap.Children[key])
//
// Scheduler slots are keyed by hour:
//
//	schema.SlotKey("8:00 AM") // "event_8:00_AM"
package schema
