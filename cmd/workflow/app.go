package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/auth"
	"github.com/ElijahFeldman7/workflow/internal/config"
	"github.com/ElijahFeldman7/workflow/internal/logging"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
	"github.com/ElijahFeldman7/workflow/internal/store/db"
	"github.com/ElijahFeldman7/workflow/internal/store/remote"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

// closeTimeout bounds the final flush of pending edits on exit.
const closeTimeout = 10 * time.Second

// widget is what app tracks so pending edits are written before exit.
type widget interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// app is the state a command runs with: configuration, logs, the record store
// and the session.
type app struct {
	cfg  *config.Config
	logs *logging.Logs
	st   store.Store
	db   *db.Store // nil for a remote store
	auth *auth.Manager

	widgets []widget
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loader.Load(configFile)
	if err != nil {
		return nil, err
	}

	logs, err := logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      !verbose,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logs: logs}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		_ = logs.Close()
		return nil, err
	}

	a.auth, err = auth.NewManager(cfg.DataDir, a.st, &auth.Config{Logger: logs.New("auth")})
	if err != nil {
		_ = a.st.Close()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverRemote:
		c, err := remote.Dial(ctx, a.cfg.Server.URL, remote.Options{Logger: a.logs.New("remote")})
		if err != nil {
			return err
		}
		a.st = c
	default:
		d, err := db.Open(db.Options{
			Driver:      a.cfg.Store.Driver,
			DSN:         a.cfg.StorePath(),
			URL:         a.cfg.Store.URL,
			AuthToken:   a.cfg.Store.AuthToken,
			ReplicaPath: a.cfg.Store.Replica,
			Logger:      a.logs.New("store"),
		})
		if err != nil {
			return err
		}
		a.st, a.db = d, d
	}
	return nil
}

// Close writes pending edits, then closes the widgets, the store and the logs.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for _, w := range a.widgets {
		if err := w.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to save: %w", err))
		}
	}
	for _, w := range a.widgets {
		if err := w.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.st.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) widgetConfig() *widgets.Config {
	return &widgets.Config{
		Autosave: a.cfg.AutosaveOptions(a.logs.New("autosave")),
		Logger:   a.logs.New("widgets"),
	}
}

func (a *app) track(w widget) {
	a.widgets = append(a.widgets, w)
}

func (a *app) tasks(ctx context.Context) (*widgets.Tasks, error) {
	t, err := widgets.NewTasks(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	a.track(t)
	return t, t.Load(ctx)
}

func (a *app) notes(ctx context.Context) (*widgets.Notes, error) {
	n, err := widgets.NewNotes(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	a.track(n)
	return n, n.Load(ctx)
}

func (a *app) scheduler() (*widgets.Scheduler, error) {
	s, err := widgets.NewScheduler(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	a.track(s)
	return s, nil
}

func (a *app) habits(ctx context.Context) (*widgets.Habits, error) {
	h, err := widgets.NewHabits(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	a.track(h)
	if err := h.Load(ctx); err != nil {
		return nil, err
	}
	if _, err := h.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (a *app) links(ctx context.Context) (*widgets.Links, error) {
	l, err := widgets.NewLinks(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	a.track(l)
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	if _, err := l.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (a *app) timer(ctx context.Context) (*widgets.FocusTimer, error) {
	t, err := widgets.NewFocusTimer(a.st, a.auth, a.widgetConfig())
	if err != nil {
		return nil, err
	}
	return t, t.Load(ctx)
}

// withApp opens the app around run and reports errors from both.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		err = run(cmd, a, args)
		if errors.Is(err, auth.ErrSignedOut) {
			err = fmt.Errorf("%w (run 'workflow auth signin')", err)
		}
		return errors.Join(err, a.Close())
	}
}

// parseHour accepts a scheduler slot as written ("9:00 AM") or in short form
// ("9am", "2pm", "14", "14:00").
func parseHour(s string) (string, error) {
	if schema.ValidHour(s) {
		return s, nil
	}
	raw := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	pm := strings.HasSuffix(raw, "pm")
	am := strings.HasSuffix(raw, "am")
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "pm"), "am")
	raw = strings.TrimSuffix(raw, ":00")

	h, err := strconv.Atoi(raw)
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("unknown hour %q", s)
	}
	switch {
	case pm && h < 12:
		h += 12
	case am && h == 12:
		h = 0
	}
	hour := time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("3:04 PM")
	if !schema.ValidHour(hour) {
		return "", fmt.Errorf("no slot at %s (the schedule runs %s to %s)", hour, schema.Hours[0], schema.Hours[len(schema.Hours)-1])
	}
	return hour, nil
}

// parseDate accepts YYYY-MM-DD, "today", "tomorrow" or "yesterday".
func parseDate(s string, now time.Time) (string, error) {
	switch strings.ToLower(s) {
	case "", "today":
		return schema.DateKey(now), nil
	case "tomorrow":
		return schema.DateKey(now.AddDate(0, 0, 1)), nil
	case "yesterday":
		return schema.DateKey(now.AddDate(0, 0, -1)), nil
	}
	if err := schema.ValidateDate(s); err != nil {
		return "", err
	}
	return s, nil
}
