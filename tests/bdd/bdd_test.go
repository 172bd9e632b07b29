//go:build bdd

// Package bdd provides end-to-end BDD tests using godog (Cucumber for Go).
//
// Run with:
//
//	go test -tags bdd -v ./tests/bdd/...
package bdd

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"

	"github.com/riftstore/eventstore/internal/api"
	"github.com/riftstore/eventstore/internal/config"
	"github.com/riftstore/eventstore/internal/dispatcher"
	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/validator"
	"github.com/riftstore/eventstore/tests/bdd/steps"
)

// newTestServer builds a fresh, file-backed event store server rooted at a
// temporary directory, with a fast dispatcher poll interval so S3/S4's
// "within Ns" assertions don't need to wait out the production default.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	v := validator.New()
	reg := registry.New(t.TempDir(), v, nil)
	consumers := dispatcher.NewConsumerRegistry(reg)
	store := eventlog.New(t.TempDir(), reg, v)
	mgr := dispatcher.NewManager(store, consumers, dispatcher.WithPollInterval(50*time.Millisecond))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := api.NewServer(cfg, reg, store, consumers, mgr, logger)
	return httptest.NewServer(server)
}

func TestFeatures(t *testing.T) {
	opts := godog.Options{
		Format:   "pretty",
		Output:   colors.Colored(os.Stdout),
		Paths:    []string{"features"},
		TestingT: t,
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sctx *godog.ScenarioContext) {
			var tc *steps.TestContext
			var webhooks *steps.WebhookRecorder
			var httpServer *httptest.Server

			sctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
				httpServer = newTestServer(t)
				tc = steps.NewTestContext(httpServer.URL)
				webhooks = steps.NewWebhookRecorder()
				return gctx, nil
			})
			sctx.After(func(gctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
				webhooks.Close()
				httpServer.Close()
				return gctx, nil
			})

			sctx.Step(`^a fresh event store$`, func() error {
				tc.Reset()
				webhooks.Reset()
				return nil
			})

			steps.RegisterEventStoreSteps(sctx, tc, webhooks)
		},
		Options: &opts,
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
