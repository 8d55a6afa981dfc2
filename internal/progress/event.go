package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageError  Stage = "PAGE_ERROR"
)

// Event captures a single step of crawl progress.
type Event struct {
	// CrawlID identifies the crawl the event belongs to.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Site is the lower-cased host for page events.
	Site string
	URL  string
	// Words is the number of distinct words on a parsed page.
	Words int
	// Links is the number of outbound links on a parsed page.
	Links int
	// Visited is the final page count on CRAWL_DONE.
	Visited int
	// Dur is the parse time for page events and the crawl time otherwise.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StagePageDone, StagePageError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsPage reports whether the event describes a single page.
func (e Event) IsPage() bool {
	return e.Stage == StagePageDone || e.Stage == StagePageError
}
