package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	// StageShowFound marks a show the worker stored after an OK probe.
	StageShowFound Stage = "SHOW_FOUND"
	// StageTick marks the end of one worker tick.
	StageTick Stage = "TICK"
)

// Event is one entry on the notification side channel.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// ShowID is the catalog id of the stored show.
	ShowID int
	// Name is the show name as scraped.
	Name string
	// CastCount is the number of distinct cast members attached to the show.
	CastCount int
	// Outcome is the tick outcome label (done, empty, busy, error).
	Outcome string
	// Dur is how long the tick took.
	Dur time.Duration
	// Note carries low-volume debug context such as error text.
	Note string
}

// ShowFound builds a StageShowFound event.
func ShowFound(ts time.Time, showID int, name string, castCount int) Event {
	return Event{TS: ts, Stage: StageShowFound, ShowID: showID, Name: name, CastCount: castCount}
}

// Tick builds a StageTick event.
func Tick(ts time.Time, outcome string, dur time.Duration) Event {
	return Event{TS: ts, Stage: StageTick, Outcome: outcome, Dur: dur}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageShowFound:
		if e.ShowID <= 0 {
			return errors.New("show found requires a positive show id")
		}
		if e.CastCount < 0 {
			return errors.New("cast count must be >= 0")
		}
	case StageTick:
		if e.Outcome == "" {
			return errors.New("tick requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
