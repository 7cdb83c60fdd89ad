// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// gcal imports upcoming events from a user's Google Calendar.  The server
// is configured with an OAuth client secret and a cached token; without
// both the adapter reports itself unconfigured and the handler replies
// with an error instead of reaching for the network.
package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/notedco/noted/wire"
)

var ErrNotConfigured = errors.New("gcal not configured")

// Client wraps an authenticated Calendar service.
type Client struct {
	svc *calendar.Service
}

// New builds a client from the client secret JSON and the cached OAuth
// token.  A missing path or file means the operator never set the
// integration up; that is ErrNotConfigured, not a failure.
func New(ctx context.Context, secretPath, tokenPath string) (*Client, error) {
	if secretPath == "" || tokenPath == "" {
		return nil, ErrNotConfigured
	}
	secret, err := os.ReadFile(secretPath)
	if os.IsNotExist(err) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	cfg, err := google.ConfigFromJSON(secret,
		calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	svc, err := calendar.NewService(ctx,
		option.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	err = json.NewDecoder(f).Decode(&tok)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// UpcomingEvents lists the primary calendar inside the window, expanded to
// single events and ordered by start time.
func (c *Client) UpcomingEvents(ctx context.Context, within time.Duration) ([]wire.GcalEvent, error) {
	now := time.Now()
	list, err := c.svc.Events.List("primary").
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(within).Format(time.RFC3339)).
		OrderBy("startTime").
		Do()
	if err != nil {
		return nil, err
	}
	return convertEvents(list.Items), nil
}

// convertEvents maps calendar entries to wire events.  All-day events
// carry a date only; entries whose start does not parse are skipped.
func convertEvents(items []*calendar.Event) []wire.GcalEvent {
	var out []wire.GcalEvent
	for _, item := range items {
		if item == nil || item.Start == nil {
			continue
		}
		var start time.Time
		var err error
		switch {
		case item.Start.DateTime != "":
			start, err = time.Parse(time.RFC3339, item.Start.DateTime)
		case item.Start.Date != "":
			start, err = time.Parse("2006-01-02", item.Start.Date)
		default:
			continue
		}
		if err != nil {
			continue
		}
		out = append(out, wire.GcalEvent{
			Title: item.Summary,
			Start: start,
		})
	}
	return out
}
