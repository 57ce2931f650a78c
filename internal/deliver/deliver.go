package deliver

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	appLog "campuscal/internal/log"
)

// Environment is the caller's runtime class, detected from its agent string.
type Environment int

const (
	// EnvDesktop is the fail-safe default when detection is inconclusive.
	EnvDesktop Environment = iota
	EnvMobile
)

func (e Environment) String() string {
	if e == EnvMobile {
		return "mobile"
	}
	return "desktop"
}

// mobileMarkers are the agent-string substrings treated as mobile OSes.
var mobileMarkers = []string{
	"android",
	"iphone",
	"ipad",
	"ipod",
	"webos",
	"blackberry",
	"windows phone",
	"opera mini",
	"mobile",
}

// DetectEnvironment classifies an agent string. Empty or unrecognized
// strings map to desktop, the less restrictive delivery path.
func DetectEnvironment(userAgent string) Environment {
	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return EnvMobile
		}
	}
	return EnvDesktop
}

// MIMECalendar is the MIME type of generated interchange documents.
const MIMECalendar = "text/calendar; charset=utf-8"

// Document is a generated artifact ready for handoff.
type Document struct {
	Filename string
	MIME     string
	Content  string
}

// DataURI renders the document as a mime-typed, percent-encoded data URI
// suitable for opening in a viewer context.
func (d Document) DataURI() string {
	mime := strings.ReplaceAll(d.MIME, " ", "")
	// QueryEscape with "+" rewritten gives strict percent-encoding.
	encoded := strings.ReplaceAll(url.QueryEscape(d.Content), "+", "%20")
	return "data:" + mime + "," + encoded
}

// Port abstracts the platform side effects of delivery so the dispatcher's
// branching is testable without a browser. Download hands a document to the
// caller's filesystem (attachment-style); OpenContext opens a URL in a new
// browsing context.
type Port interface {
	Download(ctx context.Context, doc Document) error
	OpenContext(ctx context.Context, link string) error
}

// Dispatcher decides per environment and export kind how a generated
// artifact reaches the user.
type Dispatcher struct {
	port    Port
	stagger time.Duration

	// schedule is a seam so tests can observe delays without sleeping.
	schedule func(d time.Duration, f func()) *time.Timer
}

// NewDispatcher wires a dispatcher to a delivery port. stagger is the delay
// multiple between consecutive link opens.
func NewDispatcher(port Port, stagger time.Duration) *Dispatcher {
	if stagger <= 0 {
		stagger = 300 * time.Millisecond
	}
	return &Dispatcher{
		port:     port,
		stagger:  stagger,
		schedule: time.AfterFunc,
	}
}

// DeliverDocument hands a document over according to the environment.
//
//   - desktop: attachment-style download.
//   - mobile: open the data URI in a viewer context; if the open is blocked
//     or unavailable, fall back to the download path.
func (d *Dispatcher) DeliverDocument(ctx context.Context, env Environment, doc Document) error {
	if env == EnvMobile {
		if err := d.port.OpenContext(ctx, doc.DataURI()); err != nil {
			appLog.Error("viewer open failed; falling back to download", err, "filename", doc.Filename)
			return d.port.Download(ctx, doc)
		}
		return nil
	}
	return d.port.Download(ctx, doc)
}

// LinkBatch owns the timers of one staggered link delivery. Cancel stops
// every open that has not fired yet; callers should cancel on teardown so
// no opens outlive the view that requested them.
type LinkBatch struct {
	mu     sync.Mutex
	timers []*time.Timer
}

// Cancel stops all pending opens. Safe to call more than once.
func (lb *LinkBatch) Cancel() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for _, t := range lb.timers {
		t.Stop()
	}
	lb.timers = nil
}

// Len reports how many opens were scheduled.
func (lb *LinkBatch) Len() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return len(lb.timers)
}

// DeliverLinks schedules one open per link at strictly increasing delays
// (index × stagger), spacing the opens so popup-blocking heuristics treat
// them as deliberate. A failed open is logged and skipped; it never affects
// the remaining timers. An empty batch schedules nothing.
func (d *Dispatcher) DeliverLinks(ctx context.Context, links []string) *LinkBatch {
	lb := &LinkBatch{}
	for i, link := range links {
		link := link
		delay := time.Duration(i) * d.stagger
		timer := d.schedule(delay, func() {
			if err := d.port.OpenContext(ctx, link); err != nil {
				appLog.Error("link open failed; continuing batch", err)
			}
		})
		lb.timers = append(lb.timers, timer)
	}
	if len(links) > 0 {
		appLog.Debug("link batch scheduled", "count", len(links), "stagger", d.stagger.String())
	}
	return lb
}
