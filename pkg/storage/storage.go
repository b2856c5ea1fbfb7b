// Package storage defines where finished and in-progress meetings go.
package storage

import (
	"context"
	"errors"

	"github.com/meetingmod/moderator/pkg/core/meeting"
)

// Recorder persists the three parts of a meeting. Each call receives the full
// snapshot and writes only its own part, so calls may be repeated.
type Recorder interface {
	SavePreparation(ctx context.Context, snap meeting.Snapshot) error
	SaveTranscript(ctx context.Context, snap meeting.Snapshot) error
	SaveInterventions(ctx context.Context, snap meeting.Snapshot) error
}

// Loader reads meetings back.
type Loader interface {
	Load(ctx context.Context, id string) (meeting.Snapshot, error)
	List(ctx context.Context) ([]meeting.Meeting, error)
}

// Fanout writes to every recorder and reports all failures joined.
type Fanout []Recorder

func (f Fanout) SavePreparation(ctx context.Context, snap meeting.Snapshot) error {
	return f.each(func(r Recorder) error { return r.SavePreparation(ctx, snap) })
}

func (f Fanout) SaveTranscript(ctx context.Context, snap meeting.Snapshot) error {
	return f.each(func(r Recorder) error { return r.SaveTranscript(ctx, snap) })
}

func (f Fanout) SaveInterventions(ctx context.Context, snap meeting.Snapshot) error {
	return f.each(func(r Recorder) error { return r.SaveInterventions(ctx, snap) })
}

func (f Fanout) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveAll writes preparation, transcript and interventions in that order.
func SaveAll(ctx context.Context, r Recorder, snap meeting.Snapshot) error {
	if r == nil {
		return nil
	}
	return errors.Join(
		r.SavePreparation(ctx, snap),
		r.SaveTranscript(ctx, snap),
		r.SaveInterventions(ctx, snap),
	)
}
