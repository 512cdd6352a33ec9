package support

import (
	"fmt"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/idscan/internal/extract"
)

func (testCtx *TestContext) theOCRText(doc *godog.DocString) error {
	testCtx.OCRText = doc.Content
	return nil
}

func (testCtx *TestContext) theOCRTextIsTheSample(name string) error {
	text, err := sample(name)
	if err != nil {
		return err
	}
	testCtx.OCRText = text
	return nil
}

func (testCtx *TestContext) iExtractTheFields() error {
	testCtx.Record = extract.Extract(testCtx.OCRText)
	return nil
}

func (testCtx *TestContext) fieldValue(name string) (string, error) {
	for _, f := range testCtx.Record.Fields() {
		if f.Name == name {
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", name)
}

func (testCtx *TestContext) theFieldShouldBe(name, want string) error {
	got, err := testCtx.fieldValue(name)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %s to be %q, got %q", name, want, got)
	}
	return nil
}

func (testCtx *TestContext) theFieldShouldBeEmpty(name string) error {
	return testCtx.theFieldShouldBe(name, "")
}

func (testCtx *TestContext) theIDFormatShouldBe(want string) error {
	if got := string(testCtx.Record.IDFormat); got != want {
		return fmt.Errorf("expected ID format %q, got %q", want, got)
	}
	return nil
}

func (testCtx *TestContext) theRecordShouldBeTerminal() error {
	if !testCtx.Record.Terminal() {
		return fmt.Errorf("expected a terminal record, missing %v", testCtx.Record.Missing())
	}
	return nil
}

func (testCtx *TestContext) theRecordShouldNotBeTerminal() error {
	if testCtx.Record.Terminal() {
		return fmt.Errorf("expected a partial record, got %+v", testCtx.Record)
	}
	return nil
}

// RegisterExtractionSteps registers field extraction steps.
func (testCtx *TestContext) RegisterExtractionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the OCR text:$`, testCtx.theOCRText)
	sc.Step(`^the OCR text is the "([^"]*)" sample$`, testCtx.theOCRTextIsTheSample)
	sc.Step(`^I extract the fields$`, testCtx.iExtractTheFields)
	sc.Step(`^the field "([^"]*)" should be "([^"]*)"$`, testCtx.theFieldShouldBe)
	sc.Step(`^the field "([^"]*)" should be empty$`, testCtx.theFieldShouldBeEmpty)
	sc.Step(`^the ID format should be "([^"]*)"$`, testCtx.theIDFormatShouldBe)
	sc.Step(`^the record should be terminal$`, testCtx.theRecordShouldBeTerminal)
	sc.Step(`^the record should not be terminal$`, testCtx.theRecordShouldNotBeTerminal)
}
