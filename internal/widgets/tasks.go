package widgets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Tasks is the task list widget.
type Tasks struct {
	*collection
	uid    string
	now    func() time.Time
	parser *when.Parser
}

// NewTasks opens the signed-in user's task list.
func NewTasks(st store.Store, session Session, cfg *Config) (*Tasks, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c, err := newCollection(st, schema.UserPath(uid, schema.TasksCollection), cfg, autosave.Hooks{})
	if err != nil {
		return nil, err
	}

	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)

	return &Tasks{collection: c, uid: uid, now: cfg.Now, parser: parser}, nil
}

// ParseDue extracts a natural-language due date ("tomorrow at 5pm", "next
// friday") from text. It returns the text with the date phrase removed, or
// the original text and nil if none was found.
func (t *Tasks) ParseDue(text string) (string, *time.Time) {
	r, err := t.parser.Parse(text, t.now())
	if err != nil || r == nil {
		return text, nil
	}

	rest := text[:r.Index] + text[r.Index+len(r.Text):]
	rest = strings.Join(strings.Fields(rest), " ")
	for _, suffix := range []string{" by", " due", " on", " at"} {
		rest = strings.TrimSuffix(rest, suffix)
	}
	if rest == "" {
		return text, nil
	}
	due := r.Time
	return rest, &due
}

// Add creates a task. Blank text is rejected with ErrEmptyText.
func (t *Tasks) Add(ctx context.Context, text string) (*schema.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	body, due := t.ParseDue(text)
	task := &schema.Task{Text: body, CreatedAt: t.now(), Due: due}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	key, err := t.Create(ctx, task.Record())
	if err != nil {
		return nil, err
	}
	task.Key = key
	return task, nil
}

// Toggle flips a task's completed flag.
func (t *Tasks) Toggle(ctx context.Context, key string) (*schema.Task, error) {
	task, err := t.Task(key)
	if err != nil {
		return nil, err
	}
	task.Completed = !task.Completed
	if err := t.Update(ctx, key, store.Record{"completed": task.Completed}); err != nil {
		return nil, err
	}
	return task, nil
}

// Edit changes a task's text. The write is debounced.
func (t *Tasks) Edit(key, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	task, err := t.Task(key)
	if err != nil {
		return err
	}
	task.Text = text
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return t.collection.Edit(key, task.Record())
}

// Task returns one task.
func (t *Tasks) Task(key string) (*schema.Task, error) {
	rec, ok := t.Get(key)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", key, ErrUnknownItem)
	}
	return schema.TaskFromRecord(key, rec)
}

// List returns tasks in creation order.
func (t *Tasks) List() []*schema.Task {
	items := t.Items()
	keys := sortedKeys(items, func(a, b store.Record) bool {
		return a.String("createdAt") < b.String("createdAt")
	})

	tasks := make([]*schema.Task, 0, len(keys))
	for _, key := range keys {
		task, err := schema.TaskFromRecord(key, items[key])
		if err != nil {
			t.logger.Printf("Skipping invalid task %s: %v", key, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Remaining counts open tasks.
func (t *Tasks) Remaining() int {
	n := 0
	for _, task := range t.List() {
		if !task.Completed {
			n++
		}
	}
	return n
}
