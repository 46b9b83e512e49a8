package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/pkg/config"
	"github.com/WessleyAI/wessley-valuation/pkg/natsutil"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func writeArtifacts(t *testing.T, model string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"features.json": `["mileage_kmpl","engine_cc","owner_count","accidents_reported","car_age","brand_Toyota","fuel_type_Petrol","transmission_Automatic","service_history_Full"]`,
		"scaler.json":   `{"mean":[0,0,0,0,0,0,0,0,0],"scale":[1,1,1,1,1,1,1,1,1]}`,
		"model.json":    model,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const sumModel = `{"kind":"linear","coefficients":[1,1,1,1,1,1,1,1,1],"intercept":0}`

func execute(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd(config.Config{ArtifactDir: "./models"})
	for _, name := range []string{"schema", "inspect", "estimate", "reload"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
	if f := root.PersistentFlags().Lookup("models"); f == nil || f.DefValue != "./models" {
		t.Fatal("--models should default to the configured artifact dir")
	}
}

func TestSchema(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "schema", "--models", dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Generation: ", "Features (9):", "mileage_kmpl", "service_history_Full"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfiguredFileNames(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	if err := os.Rename(filepath.Join(dir, "model.json"), filepath.Join(dir, "price_model.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, config.Config{}, "inspect", "--models", dir); err == nil {
		t.Fatal("default names should miss the renamed model")
	}
	out, err := execute(t, config.Config{ModelFile: "price_model.json"}, "inspect", "--models", dir)
	if err != nil || !strings.Contains(out, "Predicted Price: $1625.00") {
		t.Fatalf("configured model name not used: %v\n%s", err, out)
	}
}

func TestSchemaMissingArtifacts(t *testing.T) {
	_, err := execute(t, config.Config{}, "schema", "--models", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "model") {
		t.Fatalf("expected a load error naming the model, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "inspect", "--models", dir)
	if err != nil {
		t.Fatal(err)
	}
	// 18 + 1600 + 5 + brand_Toyota + service_history_Full
	if !strings.Contains(out, "Predicted Price: $1625.00") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "scaler mean (first 9)") {
		t.Fatalf("scaler parameters should be capped at the feature count:\n%s", out)
	}
	if !strings.Contains(out, "Scaler round-trip drift: 0\n") {
		t.Fatalf("identity scaler should round-trip exactly:\n%s", out)
	}
}

func TestInspectFirst(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "inspect", "--models", dir, "--first", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "scaler mean (first 0):  []") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := execute(t, config.Config{}, "inspect", "--models", dir, "--first", "-1"); err == nil || !strings.Contains(err.Error(), "--first") {
		t.Fatalf("negative --first should be rejected, got %v", err)
	}
}

func TestInspectJSON(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "inspect", "--models", dir, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Features []string         `json:"features"`
		Aligned  []float64        `json:"aligned"`
		Estimate pricing.Estimate `json:"estimate"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	want := []float64{18, 1600, 0, 0, 5, 1, 0, 0, 1}
	for i, x := range want {
		if got.Aligned[i] != x {
			t.Fatalf("feature %s: got %g want %g", got.Features[i], got.Aligned[i], x)
		}
	}
	if got.Estimate.Price != 1625 || got.Estimate.Generation == "" {
		t.Fatalf("unexpected %+v", got.Estimate)
	}
}

func TestEstimate(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "estimate", "--models", dir, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var resp pricing.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	// 18 + 1600 + 1 owner + 5 yrs + Toyota + Petrol + Automatic + Full
	if resp.Price != 1628 || resp.WasClamped {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestEstimateText(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	out, err := execute(t, config.Config{}, "estimate", "--models", dir, "--transmission", "Manual", "--engine-cc", "1500")
	if err != nil {
		t.Fatal(err)
	}
	// Manual has no column in this schema.
	for _, want := range []string{"Toyota Petrol Manual, 1500 cc", "Predicted Price: $1527.00", "Generation: "} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestEstimateClamped(t *testing.T) {
	dir := writeArtifacts(t, `{"kind":"linear","coefficients":[0,0,0,0,0,0,0,0,0],"intercept":-250}`)
	out, err := execute(t, config.Config{}, "estimate", "--models", dir, "--brand", "Kia")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Predicted Price: $0.00") || !strings.Contains(out, pricing.Advisory) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestEstimateValidation(t *testing.T) {
	dir := writeArtifacts(t, sumModel)
	if _, err := execute(t, config.Config{}, "estimate", "--models", dir, "--fuel", "Hydrogen"); err == nil {
		t.Fatal("unknown fuel should be rejected")
	}
	if _, err := execute(t, config.Config{}, "estimate", "--models", dir, "--brand", "Lada"); err != nil {
		t.Fatalf("unknown brands are accepted by default: %v", err)
	}
	if _, err := execute(t, config.Config{KnownBrandsOnly: true}, "estimate", "--models", dir, "--brand", "Lada"); err == nil {
		t.Fatal("strict validation should reject unknown brands")
	}
}

func startTestNATS(t *testing.T) (*nats.Conn, string) {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc, srv.ClientURL()
}

func TestReload(t *testing.T) {
	nc, url := startTestNATS(t)
	reasons := make(chan string, 1)
	_, err := natsutil.Reply(nc, pricing.SubjectArtifactsReload, "",
		func(_ context.Context, req pricing.ReloadRequest) (pricing.ReloadResult, error) {
			reasons <- req.Reason
			return pricing.ReloadResult{Generation: "g2", Previous: "g1"}, nil
		}, nil)
	if err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	out, err := execute(t, config.Config{NATSURL: url}, "reload", "--reason", "retrained")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Installed g2 (was g1)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if got := <-reasons; got != "retrained" {
		t.Fatalf("reason not forwarded: %q", got)
	}
}

func TestReloadFailed(t *testing.T) {
	nc, url := startTestNATS(t)
	_, err := natsutil.Reply(nc, pricing.SubjectArtifactsReload, "",
		func(_ context.Context, _ pricing.ReloadRequest) (pricing.ReloadResult, error) {
			return pricing.ReloadResult{Generation: "g1", Previous: "g1", Error: "artifact: load scaler"}, nil
		}, nil)
	if err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	out, err := execute(t, config.Config{}, "reload", "--nats", url)
	if err == nil || !strings.Contains(err.Error(), "load scaler") {
		t.Fatalf("expected the remote failure, got %v", err)
	}
	if !strings.Contains(out, "still serving g1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestReloadNeedsServer(t *testing.T) {
	if _, err := execute(t, config.Config{}, "reload"); err == nil {
		t.Fatal("expected an error without a NATS URL")
	}
}
