package support

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

const sessionCadence = 10 * time.Millisecond

func cardImageFrame() frame.Frame {
	return frame.New(testutil.GenerateCardFrame(testutil.DefaultCardConfig()))
}

func (testCtx *TestContext) aLiveSessionReading(name string) error {
	text, err := sample(name)
	if err != nil {
		return err
	}
	engines, err := ocr.NewFactory(ocr.Config{Backend: ocr.BackendStatic, StaticText: text})
	if err != nil {
		return err
	}

	cfg := scan.DefaultConfig()
	cfg.Cadence = sessionCadence
	testCtx.Source = frame.NewLatestSource()
	testCtx.Controller, err = scan.NewController(cfg, testCtx.Source, scan.Components{Engines: engines}, testCtx.events.listener())
	return err
}

func (testCtx *TestContext) theCameraShowsACard() error {
	testCtx.Source.Put(cardImageFrame())
	return nil
}

func (testCtx *TestContext) theCameraShowsABlankFrame() error {
	testCtx.Source.Put(frame.New(testutil.PlainFrame(640, 480, 200)))
	return nil
}

func (testCtx *TestContext) theCameraFails() error {
	testCtx.Source.Fail(errors.New("camera access denied"))
	return nil
}

func (testCtx *TestContext) theSessionIsStarted() error {
	return testCtx.Controller.Start(context.Background())
}

func (testCtx *TestContext) iRetryTheSession() error {
	testCtx.Source.Recover()
	return testCtx.Controller.Retry(context.Background())
}

func (testCtx *TestContext) iResetTheSession() error {
	testCtx.Controller.Reset()
	return nil
}

func (testCtx *TestContext) theSessionShouldReachStateWithin(want string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for {
		got := testCtx.Controller.State()
		if got.String() == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session in state %s after %ds, expected %s", got, seconds, want)
		}
		time.Sleep(sessionCadence)
	}
}

func (testCtx *TestContext) theSessionShouldStayIn(want string) error {
	time.Sleep(20 * sessionCadence)
	got := testCtx.Controller.State()
	// A cycle may be in flight when sampled.
	if got.String() != want && got != scan.StateScanning {
		return fmt.Errorf("expected session to stay in %s, got %s", want, got)
	}
	if s := testCtx.Controller.Snapshot(); s.Record != nil {
		return fmt.Errorf("unexpected record %+v", *s.Record)
	}
	return nil
}

func (testCtx *TestContext) theGuidanceShouldHaveIncluded(msg string) error {
	// Listener callbacks are delivered asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		guidance, _, _ := testCtx.events.snapshot()
		if slices.Contains(guidance, msg) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("guidance %q not shown, got %q", msg, guidance)
		}
		time.Sleep(sessionCadence)
	}
}

func (testCtx *TestContext) theCurrentGuidanceShouldBe(msg string) error {
	if got := testCtx.Controller.Snapshot().Guidance; got != msg {
		return fmt.Errorf("expected guidance %q, got %q", msg, got)
	}
	return nil
}

func (testCtx *TestContext) recordsShouldHaveBeenExtracted(n int) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, extracted := testCtx.events.snapshot()
		if len(extracted) == n {
			// Wait a few more cycles to catch duplicates.
			time.Sleep(10 * sessionCadence)
			if _, _, again := testCtx.events.snapshot(); len(again) != n {
				return fmt.Errorf("expected %d records, got %d", n, len(again))
			}
			return nil
		}
		if len(extracted) > n || time.Now().After(deadline) {
			return fmt.Errorf("expected %d records, got %d", n, len(extracted))
		}
		time.Sleep(sessionCadence)
	}
}

func (testCtx *TestContext) theExtractedIDShouldBe(want string) error {
	s := testCtx.Controller.Snapshot()
	if s.Record == nil {
		return errors.New("session holds no record")
	}
	if s.Record.IDNumber != want {
		return fmt.Errorf("expected ID %q, got %q", want, s.Record.IDNumber)
	}
	return nil
}

// RegisterSessionSteps registers live session steps.
func (testCtx *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a live session reading the "([^"]*)" sample$`, testCtx.aLiveSessionReading)
	sc.Step(`^the camera shows a card$`, testCtx.theCameraShowsACard)
	sc.Step(`^the camera shows a blank frame$`, testCtx.theCameraShowsABlankFrame)
	sc.Step(`^the camera fails$`, testCtx.theCameraFails)
	sc.Step(`^the session is started$`, testCtx.theSessionIsStarted)
	sc.Step(`^I retry the session$`, testCtx.iRetryTheSession)
	sc.Step(`^I reset the session$`, testCtx.iResetTheSession)
	sc.Step(`^the session should reach state "([^"]*)" within (\d+) seconds?$`, testCtx.theSessionShouldReachStateWithin)
	sc.Step(`^the session should stay in state "([^"]*)"$`, testCtx.theSessionShouldStayIn)
	sc.Step(`^the guidance should have included "([^"]*)"$`, testCtx.theGuidanceShouldHaveIncluded)
	sc.Step(`^the current guidance should be "([^"]*)"$`, testCtx.theCurrentGuidanceShouldBe)
	sc.Step(`^(\d+) records? should have been extracted$`, testCtx.recordsShouldHaveBeenExtracted)
	sc.Step(`^the extracted ID should be "([^"]*)"$`, testCtx.theExtractedIDShouldBe)
}
