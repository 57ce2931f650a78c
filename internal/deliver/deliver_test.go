package deliver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorderPort captures delivery side effects for assertions.
type recorderPort struct {
	mu        sync.Mutex
	downloads []Document
	opens     []string
	openErr   error
}

func (p *recorderPort) Download(_ context.Context, doc Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads = append(p.downloads, doc)
	return nil
}

func (p *recorderPort) OpenContext(_ context.Context, link string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens = append(p.opens, link)
	return p.openErr
}

// syncDispatcher returns a dispatcher whose scheduler records delays and
// runs callbacks immediately instead of sleeping.
func syncDispatcher(port Port, stagger time.Duration) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(port, stagger)
	delays := &[]time.Duration{}
	d.schedule = func(delay time.Duration, f func()) *time.Timer {
		*delays = append(*delays, delay)
		f()
		return time.AfterFunc(time.Hour, func() {})
	}
	return d, delays
}

func TestDetectEnvironment(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want Environment
	}{
		{"empty is desktop", "", EnvDesktop},
		{"linux desktop", "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0", EnvDesktop},
		{"macos desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", EnvDesktop},
		{"android", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari/537.36", EnvMobile},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", EnvMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", EnvMobile},
		{"windows phone", "Mozilla/5.0 (Windows Phone 10.0)", EnvMobile},
		{"opera mini", "Opera/9.80 (Android; Opera Mini/36.2) Presto/2.12", EnvMobile},
		{"case insensitive", "SOMETHING ANDROID SOMETHING", EnvMobile},
		{"garbage is desktop", "definitely-not-a-browser/1.0", EnvDesktop},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectEnvironment(tc.ua))
		})
	}
}

func TestDocument_DataURI(t *testing.T) {
	doc := Document{
		Filename: "events.ics",
		MIME:     MIMECalendar,
		Content:  "BEGIN:VCALENDAR\r\nSUMMARY:Foo, Bar\r\nEND:VCALENDAR\r\n",
	}

	uri := doc.DataURI()
	require.True(t, len(uri) > 0)
	require.Contains(t, uri, "data:text/calendar;charset=utf-8,")
	// Strict percent-encoding: no raw spaces or '+' placeholders.
	require.NotContains(t, uri, " ")
	require.NotContains(t, uri, "+")
	require.Contains(t, uri, "%20")
}

func TestDeliverDocument_DesktopDownloads(t *testing.T) {
	port := &recorderPort{}
	d := NewDispatcher(port, 0)

	doc := Document{Filename: "events.ics", MIME: MIMECalendar, Content: "BEGIN:VCALENDAR\r\n"}
	require.NoError(t, d.DeliverDocument(context.Background(), EnvDesktop, doc))

	require.Len(t, port.downloads, 1)
	require.Empty(t, port.opens)
	require.Equal(t, "events.ics", port.downloads[0].Filename)
}

func TestDeliverDocument_MobileOpensViewer(t *testing.T) {
	port := &recorderPort{}
	d := NewDispatcher(port, 0)

	doc := Document{Filename: "events.ics", MIME: MIMECalendar, Content: "BEGIN:VCALENDAR\r\n"}
	require.NoError(t, d.DeliverDocument(context.Background(), EnvMobile, doc))

	require.Empty(t, port.downloads)
	require.Len(t, port.opens, 1)
	require.Contains(t, port.opens[0], "data:text/calendar")
}

func TestDeliverDocument_MobileFallsBackOnBlockedViewer(t *testing.T) {
	port := &recorderPort{openErr: errors.New("popup blocked")}
	d := NewDispatcher(port, 0)

	doc := Document{Filename: "events.ics", MIME: MIMECalendar, Content: "BEGIN:VCALENDAR\r\n"}
	require.NoError(t, d.DeliverDocument(context.Background(), EnvMobile, doc))

	require.Len(t, port.opens, 1)
	require.Len(t, port.downloads, 1)
}

func TestDeliverLinks_StrictlyIncreasingDelays(t *testing.T) {
	port := &recorderPort{}
	d, delays := syncDispatcher(port, 300*time.Millisecond)

	links := []string{"https://cal/one", "https://cal/two", "https://cal/three"}
	lb := d.DeliverLinks(context.Background(), links)
	defer lb.Cancel()

	require.Equal(t, []time.Duration{
		0,
		300 * time.Millisecond,
		600 * time.Millisecond,
	}, *delays)
	require.Equal(t, links, port.opens)
}

func TestDeliverLinks_EmptyBatchIsANoOp(t *testing.T) {
	port := &recorderPort{}
	d, delays := syncDispatcher(port, 300*time.Millisecond)

	lb := d.DeliverLinks(context.Background(), nil)
	require.Equal(t, 0, lb.Len())
	require.Empty(t, *delays)
	require.Empty(t, port.opens)
}

func TestDeliverLinks_FailuresDoNotAbortBatch(t *testing.T) {
	port := &recorderPort{openErr: errors.New("blocked")}
	d, _ := syncDispatcher(port, 300*time.Millisecond)

	lb := d.DeliverLinks(context.Background(), []string{"a", "b", "c"})
	defer lb.Cancel()

	// Every open is attempted even though all of them fail.
	require.Len(t, port.opens, 3)
}

func TestLinkBatch_CancelStopsPendingOpens(t *testing.T) {
	port := &recorderPort{}
	d := NewDispatcher(port, time.Hour)
	// Hold every open far in the future so Cancel always wins the race,
	// including the index-zero open that would otherwise fire immediately.
	d.schedule = func(_ time.Duration, f func()) *time.Timer {
		return time.AfterFunc(time.Hour, f)
	}

	lb := d.DeliverLinks(context.Background(), []string{"a", "b", "c"})
	require.Equal(t, 3, lb.Len())

	lb.Cancel()
	require.Equal(t, 0, lb.Len())

	// None of the hour-delayed opens fire.
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, port.opens)

	// Cancel is idempotent.
	lb.Cancel()
}
