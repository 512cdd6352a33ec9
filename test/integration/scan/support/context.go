package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

// samples maps the names used in feature files to OCR texts.
var samples = map[string]string{
	"emirates": testutil.EmiratesCardText,
	"grouped":  testutil.GroupedCardText,
	"partial":  testutil.PartialCardText,
	"empty":    "",
}

func sample(name string) (string, error) {
	text, ok := samples[name]
	if !ok {
		return "", fmt.Errorf("unknown OCR sample %q", name)
	}
	return text, nil
}

// TestContext holds the state of one scenario.
type TestContext struct {
	// Extraction state
	OCRText string
	Record  extract.Record

	// Live session state
	Source     *frame.LatestSource
	Controller *scan.Controller
	events     *eventLog

	// Server state
	HTTPServer   *httptest.Server
	ScanServer   *server.Server
	LastStatus   int
	LastBody     string
	LastJSON     map[string]interface{}
	LastHeaders  map[string]string
	UploadFormat string
}

// NewTestContext creates an empty scenario context.
func NewTestContext() *TestContext {
	return &TestContext{events: &eventLog{}, LastHeaders: map[string]string{}}
}

// Cleanup stops the session and server started by the scenario.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.Controller != nil {
		if err := testCtx.Controller.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop session: %w", err))
		}
		testCtx.Controller = nil
	}
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.ScanServer != nil {
		if err := testCtx.ScanServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close server: %w", err))
		}
		testCtx.ScanServer = nil
	}
	return errors.Join(errs...)
}

// eventLog records listener callbacks.
type eventLog struct {
	mu        sync.Mutex
	guidance  []string
	states    []scan.State
	extracted []extract.Record
}

func (l *eventLog) listener() scan.Listener {
	return scan.ListenerFuncs{
		Guidance: func(m string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.guidance = append(l.guidance, m)
		},
		State: func(s scan.State) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.states = append(l.states, s)
		},
		Extracted: func(r extract.Record) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.extracted = append(l.extracted, r)
		},
	}
}

func (l *eventLog) snapshot() ([]string, []scan.State, []extract.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.guidance...),
		append([]scan.State(nil), l.states...),
		append([]extract.Record(nil), l.extracted...)
}
