package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/sink"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func (testCtx *TestContext) startServer(comp scan.Components, cfg server.Config) error {
	srv, err := server.NewServer(cfg, comp, sink.Nop{})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.ScanServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func serverConfig() server.Config {
	return server.Config{CORSOrigin: "*", MaxUploadMB: 2, TimeoutSec: 5}
}

func (testCtx *TestContext) aScanServerReading(name string) error {
	text, err := sample(name)
	if err != nil {
		return err
	}
	engines, err := ocr.NewFactory(ocr.Config{Backend: ocr.BackendStatic, StaticText: text})
	if err != nil {
		return err
	}
	return testCtx.startServer(scan.Components{Engines: engines}, serverConfig())
}

func (testCtx *TestContext) aScanServerWithoutAnOCRBackend() error {
	return testCtx.startServer(scan.Components{}, serverConfig())
}

func (testCtx *TestContext) aScanServerLimitedToUploadsPerMinute(name string, limit int) error {
	text, err := sample(name)
	if err != nil {
		return err
	}
	engines, err := ocr.NewFactory(ocr.Config{Backend: ocr.BackendStatic, StaticText: text})
	if err != nil {
		return err
	}
	cfg := serverConfig()
	cfg.RequestsPerMinute = limit
	return testCtx.startServer(scan.Components{Engines: engines}, cfg)
}

func (testCtx *TestContext) upload(field, filename string, data []byte, fields map[string]string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+"/scan/image", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) do(req *http.Request) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing response body: %v\n", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastStatus = resp.StatusCode
	testCtx.LastBody = string(data)
	testCtx.LastHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHeaders[k] = resp.Header.Get(k)
	}
	testCtx.LastJSON = nil
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(data, &testCtx.LastJSON)
	}
	return nil
}

func (testCtx *TestContext) iUploadTheCardImage() error {
	img := testutil.GenerateCardFrame(testutil.DefaultCardConfig())
	return testCtx.upload("image", "card.png", encodePNG(img), nil)
}

func (testCtx *TestContext) iUploadTheCardImageWithStrategy(strategy string) error {
	img := testutil.GenerateCardFrame(testutil.DefaultCardConfig())
	return testCtx.upload("image", "card.png", encodePNG(img), map[string]string{"strategy": strategy})
}

func (testCtx *TestContext) iUploadTheCardImageTimes(n int) error {
	for range n {
		if err := testCtx.iUploadTheCardImage(); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) iUploadAFileThatIsNotAnImage() error {
	return testCtx.upload("image", "notes.txt", []byte("not an image"), nil)
}

func (testCtx *TestContext) iRequest(path string) error {
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(want int) error {
	if testCtx.LastStatus != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, testCtx.LastStatus, testCtx.LastBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastBody, text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHeaders[name] == "" {
		return fmt.Errorf("header %s not set", name)
	}
	return nil
}

// theJSONFieldShouldBe compares a dotted path such as record.id_number.
func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	if testCtx.LastJSON == nil {
		return fmt.Errorf("response is not JSON: %s", testCtx.LastBody)
	}
	var cur interface{} = testCtx.LastJSON
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field %s: %q is not an object", path, part)
		}
		if cur, ok = m[part]; !ok {
			return fmt.Errorf("field %s not found in %s", path, testCtx.LastBody)
		}
	}

	var got string
	switch v := cur.(type) {
	case string:
		got = v
	case bool:
		got = strconv.FormatBool(v)
	case float64:
		got = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		got = fmt.Sprint(v)
	}
	if got != want {
		return fmt.Errorf("expected %s to be %q, got %q", path, want, got)
	}
	return nil
}

// RegisterServerSteps registers HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a scan server reading the "([^"]*)" sample$`, testCtx.aScanServerReading)
	sc.Step(`^a scan server without an OCR backend$`, testCtx.aScanServerWithoutAnOCRBackend)
	sc.Step(`^a scan server reading the "([^"]*)" sample limited to (\d+) uploads? per minute$`, testCtx.aScanServerLimitedToUploadsPerMinute)
	sc.Step(`^I upload the card image$`, testCtx.iUploadTheCardImage)
	sc.Step(`^I upload the card image with strategy "([^"]*)"$`, testCtx.iUploadTheCardImageWithStrategy)
	sc.Step(`^I upload the card image (\d+) times$`, testCtx.iUploadTheCardImageTimes)
	sc.Step(`^I upload a file that is not an image$`, testCtx.iUploadAFileThatIsNotAnImage)
	sc.Step(`^I request "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
}
